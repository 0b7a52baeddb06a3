package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/deevent/internal/apiclient"
	"github.com/hitoshi/deevent/internal/logger"
	"github.com/hitoshi/deevent/internal/metrics"
	"github.com/hitoshi/deevent/internal/middleware"
	"github.com/hitoshi/deevent/internal/model"
	"github.com/hitoshi/deevent/internal/security"
	"github.com/hitoshi/deevent/internal/wizard"
)

const registerPath = "/register"

// 登録フォームのaction値
const (
	actionNext     = "next"
	actionBack     = "back"
	actionUserType = "user_type"
)

// サーバーがメッセージを返さなかった場合の成功文言
const defaultRegisteredMessage = "Registration successful!"

// stepTitles は各ステップの見出し。
var stepTitles = map[wizard.Step]string{
	wizard.StepUserType:     "Select Account Type",
	wizard.StepCredentials:  "Create Your Account",
	wizard.StepPersonalInfo: "Personal Information",
	wizard.StepReview:       "Review & Complete",
}

// SubmitLimiter は登録の最終送信の回数を制限する。middleware.RateLimiterが実装する。
// 拒否した場合はレスポンスを書き込み済みでfalseを返す。
type SubmitLimiter interface {
	AllowAuthRequest(w http.ResponseWriter, r *http.Request) bool
}

// RegisterHandler は登録ウィザードのHTTPハンドラー。
// ウィザードの状態はセッションストアの下書きとして保持する。
type RegisterHandler struct {
	service   AuthServiceInterface
	renderer  *Renderer
	sanitizer security.ContentSanitizer
	metrics   metrics.MetricsCollector
	session   middleware.SessionConfig
	limiter   SubmitLimiter
}

// NewRegisterHandler はRegisterHandlerを生成する。limiterがnilなら制限しない。
func NewRegisterHandler(
	service AuthServiceInterface,
	renderer *Renderer,
	sanitizer security.ContentSanitizer,
	collector metrics.MetricsCollector,
	session middleware.SessionConfig,
	limiter SubmitLimiter,
) *RegisterHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &RegisterHandler{
		service:   service,
		renderer:  renderer,
		sanitizer: sanitizer,
		metrics:   collector,
		session:   session,
		limiter:   limiter,
	}
}

// registerPage は登録画面のデータ。
type registerPage struct {
	basePage
	Wizard         *wizard.Wizard
	UserTypes      []wizard.UserTypeOption
	Counties       []string
	StepTitle      string
	UserTypeLabel  string
	FormattedPhone string
}

// registerSuccessPage は登録完了画面のデータ。
type registerSuccessPage struct {
	basePage
	Message  string
	Redirect string
}

// Show は下書きの現在のステップを表示する。下書きがなければ最初から始める。
// GET /register
func (h *RegisterHandler) Show(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionIDFromContext(r.Context())

	wz, err := h.service.LoadDraft(r.Context(), sessionID)
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to load registration draft",
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w, r)
		return
	}

	h.renderer.Render(w, r, http.StatusOK, pageRegister, newRegisterPage(wz, isLoggedIn(r, h.service)))
}

// Submit は現在のステップの入力を反映し、actionに応じて遷移する。
// 最終ステップの検証に成功した場合は登録APIを呼び出す。
// POST /register
func (h *RegisterHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	sessionID := middleware.SessionIDFromContext(ctx)

	if err := r.ParseForm(); err != nil {
		middleware.WriteErrorResponse(w, r, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_FORM",
			Message:  "The submitted form could not be read.",
			Category: "validation",
			Action:   "Please reload the page and try again.",
		})
		return
	}

	wz, err := h.service.LoadDraft(ctx, sessionID)
	if err != nil {
		log.Error("failed to load registration draft", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w, r)
		return
	}

	applyStepFields(r, wz, log)

	step := int(wz.Step)
	switch r.PostForm.Get("action") {
	case actionBack:
		wz.Back()
		h.metrics.RecordWizardTransition(step, actionBack)
	case actionUserType:
		h.metrics.RecordWizardTransition(step, "select")
	default:
		transition := wz.Next()
		h.metrics.RecordWizardTransition(step, transition.String())
		if transition == wizard.TransitionSubmit {
			h.submit(w, r, sessionID, wz)
			return
		}
	}

	h.saveAndRedirect(w, r, sessionID, wz)
}

// applyStepFields は現在のステップに属するフィールドだけをフォームから反映する。
// チェックボックスは未送信を未同意として扱う。
func applyStepFields(r *http.Request, wz *wizard.Wizard, log *slog.Logger) {
	if wz.Step == wizard.StepUserType {
		if v, ok := r.PostForm[wizard.FieldUserType]; ok && len(v) > 0 {
			if err := wz.SetField(wizard.FieldUserType, v[0]); err != nil {
				log.Warn("ignored user type", slog.String("error", err.Error()))
			}
		}
		return
	}

	for _, name := range wizard.StepFields[wz.Step] {
		if _, ok := r.PostForm[name]; !ok && name != wizard.FieldAgreedToTerms {
			continue
		}
		if keepStoredPassword(wz, name, r.PostForm.Get(name)) {
			continue
		}
		if err := wz.SetField(name, r.PostForm.Get(name)); err != nil {
			log.Warn("ignored registration field",
				slog.String("field", name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// keepStoredPassword はパスワード欄が空で送信され、保存済みの値がある場合にtrueを返す。
// パスワードは画面に再表示しないため、空欄は「変更なし」として扱う。
func keepStoredPassword(wz *wizard.Wizard, name, value string) bool {
	if value != "" {
		return false
	}
	switch name {
	case wizard.FieldPassword:
		return wz.Form.Password != ""
	case wizard.FieldPassword2:
		return wz.Form.Password2 != ""
	}
	return false
}

// submit は登録APIを呼び出す。レート制限は最終送信にだけかける。
// 成功時は新しいセッションIDのCookieを設定して完了画面を描画し、
// 失敗時はバナーを設定して最終ステップに戻す。
func (h *RegisterHandler) submit(w http.ResponseWriter, r *http.Request, sessionID string, wz *wizard.Wizard) {
	ctx := r.Context()
	if h.limiter != nil && !h.limiter.AllowAuthRequest(w, r) {
		return
	}
	wz.BeginSubmit()

	result, newSessionID, err := h.service.Register(ctx, sessionID, wz.Payload())
	if err != nil {
		h.metrics.RecordRegistration(metrics.OutcomeFailure)

		var apiErr *apiclient.Error
		if !errors.As(err, &apiErr) {
			logger.FromContext(ctx).Error("registration failed", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w, r)
			return
		}

		wz.SubmitFailed(h.sanitizer.Text(apiclient.RegistrationMessage(err)))
		h.saveAndRedirect(w, r, sessionID, wz)
		return
	}
	h.metrics.RecordRegistration(metrics.OutcomeSuccess)

	profile, err := result.Profile()
	if err != nil {
		logger.FromContext(ctx).Warn("registered user could not be decoded", slog.String("error", err.Error()))
		profile = &model.UserProfile{}
	}

	message := h.sanitizer.Text(result.Message)
	if message == "" {
		message = defaultRegisteredMessage
	}
	wz.SubmitSucceeded(message, profile.IsOrganizer)
	middleware.RotateSessionCookie(w, h.session, newSessionID)

	h.renderer.Render(w, r, http.StatusOK, pageRegisterSuccess, &registerSuccessPage{
		basePage: basePage{Title: "Create Account", LoggedIn: true},
		Message:  wz.Success,
		Redirect: wz.Redirect,
	})
}

func (h *RegisterHandler) saveAndRedirect(w http.ResponseWriter, r *http.Request, sessionID string, wz *wizard.Wizard) {
	if err := h.service.SaveDraft(r.Context(), sessionID, wz); err != nil {
		logger.FromContext(r.Context()).Error("failed to save registration draft",
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w, r)
		return
	}
	http.Redirect(w, r, registerPath, http.StatusSeeOther)
}

func newRegisterPage(wz *wizard.Wizard, loggedIn bool) *registerPage {
	p := &registerPage{
		basePage:  basePage{Title: "Create Account", LoggedIn: loggedIn},
		Wizard:    wz,
		UserTypes: wizard.UserTypeOptions,
		Counties:  wizard.Counties,
		StepTitle: stepTitles[wz.Step],
	}
	for _, opt := range wizard.UserTypeOptions {
		if opt.Value == wz.Form.UserType {
			p.UserTypeLabel = opt.Label
		}
	}
	if wz.Step == wizard.StepReview {
		p.FormattedPhone = wizard.FormatPhoneNumber(wz.Form.Phone)
	}
	return p
}
