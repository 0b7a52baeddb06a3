package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/deevent/internal/logger"
	"github.com/hitoshi/deevent/internal/middleware"
	"github.com/hitoshi/deevent/internal/model"
	"github.com/hitoshi/deevent/internal/security"
	"github.com/hitoshi/deevent/internal/wizard"
)

//go:embed templates/*.html
var templateFS embed.FS

// ページテンプレート名。templates/<name>.html に対応する。
const (
	pageLogin              = "login"
	pageRegister           = "register"
	pageRegisterSuccess    = "register_success"
	pageDashboard          = "dashboard"
	pageOrganizerDashboard = "organizer_dashboard"
	pageProfile            = "profile"
	pageOrganizations      = "organizations"
	pageOrganizationForm   = "organization_form"
	pageOrganization       = "organization"
	pageError              = "error"
)

var pageNames = []string{
	pageLogin, pageRegister, pageRegisterSuccess, pageDashboard, pageOrganizerDashboard,
	pageProfile, pageOrganizations, pageOrganizationForm, pageOrganization, pageError,
}

// basePage は全ページ共通のレイアウト用データ。
type basePage struct {
	Title     string
	CSRFToken string
	LoggedIn  bool
}

func (b *basePage) base() *basePage { return b }

// page は共通データを持つページデータ。
type page interface {
	base() *basePage
}

// Renderer は埋め込みテンプレートからページを描画する。
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer は全ページのテンプレートを解析する。
// 組織の説明文はsanitizer.RichTextを通してから信頼済みHTMLとして埋め込む。
func NewRenderer(sanitizer security.ContentSanitizer) (*Renderer, error) {
	funcs := template.FuncMap{
		"richText": func(s string) template.HTML {
			return template.HTML(sanitizer.RichText(s))
		},
		"stepLabels": func() []string { return wizard.StepLabels },
		"add":        func(a, b int) int { return a + b },
	}

	layout, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout template: %w", err)
	}

	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := layout.Clone()
		if err != nil {
			return nil, fmt.Errorf("clone layout for %s: %w", name, err)
		}
		if _, err := t.ParseFS(templateFS, "templates/"+name+".html"); err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		pages[name] = t
	}
	return &Renderer{pages: pages}, nil
}

// Render はページを描画する。CSRFトークンはリクエストコンテキストから埋め込む。
// 描画に失敗した場合はステータスを書き込む前に500を返す。
func (rd *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, name string, data page) {
	t, ok := rd.pages[name]
	if !ok {
		logger.FromContext(r.Context()).Error("unknown template", slog.String("template", name))
		middleware.WriteInternalServerError(w, r)
		return
	}

	data.base().CSRFToken = middleware.CSRFTokenFromContext(r.Context())

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		logger.FromContext(r.Context()).Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// errorPage はエラーページのデータ。
type errorPage struct {
	basePage
	Error *model.APIError
}

// RenderError は統一エラーをエラーページとして描画する。
func (rd *Renderer) RenderError(w http.ResponseWriter, r *http.Request, status int, apiErr *model.APIError, loggedIn bool) {
	rd.Render(w, r, status, pageError, &errorPage{
		basePage: basePage{Title: "Error", LoggedIn: loggedIn},
		Error:    apiErr,
	})
}
