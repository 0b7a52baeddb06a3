package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/deevent/internal/apiclient"
	"github.com/hitoshi/deevent/internal/logger"
	"github.com/hitoshi/deevent/internal/model"
	"github.com/hitoshi/deevent/internal/security"
)

const organizationsPath = "/organizations"

const fieldRequiredForBusiness = "Required for business organizations"

// OrganizationAPI は組織の参照・作成・更新・削除を行うインターフェース。
// apiclient.Clientが実装する。
type OrganizationAPI interface {
	ListOrganizations(ctx context.Context) ([]model.Organization, error)
	CreateOrganization(ctx context.Context, in model.OrganizationInput) (*model.Organization, error)
	GetOrganization(ctx context.Context, id string) (*model.Organization, error)
	UpdateOrganization(ctx context.Context, id string, in model.OrganizationInput) (*model.Organization, error)
	DeleteOrganization(ctx context.Context, id string) error
}

// OrganizationHandler は組織ページのHTTPハンドラー。
type OrganizationHandler struct {
	api       OrganizationAPI
	renderer  *Renderer
	sanitizer security.ContentSanitizer
}

// NewOrganizationHandler はOrganizationHandlerを生成する。
func NewOrganizationHandler(api OrganizationAPI, renderer *Renderer, sanitizer security.ContentSanitizer) *OrganizationHandler {
	return &OrganizationHandler{
		api:       api,
		renderer:  renderer,
		sanitizer: sanitizer,
	}
}

type organizationsPage struct {
	basePage
	Organizations []model.Organization
	Error         string
}

type organizationPage struct {
	basePage
	Organization *model.Organization
}

// organizationFormPage は作成・編集フォームのデータ。IDが空なら作成フォーム。
type organizationFormPage struct {
	basePage
	ID          string
	Input       model.OrganizationInput
	FieldErrors map[string]string
	Error       string
}

// List は組織の一覧を表示する。
// GET /organizations
func (h *OrganizationHandler) List(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.api.ListOrganizations(r.Context())
	if err != nil {
		h.renderer.renderUpstreamError(w, r, err, "")
		return
	}
	h.renderer.Render(w, r, http.StatusOK, pageOrganizations, &organizationsPage{
		basePage:      basePage{Title: "Organizations", LoggedIn: true},
		Organizations: orgs,
	})
}

// New は作成フォームを表示する。
// GET /organizations/new
func (h *OrganizationHandler) New(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, "", model.OrganizationInput{OrgType: model.OrganizationTypePersonal}, nil, "")
}

// Create は組織を作成し、詳細ページへリダイレクトする。
// POST /organizations
func (h *OrganizationHandler) Create(w http.ResponseWriter, r *http.Request) {
	in := organizationInputFromForm(r)
	if h.rejectIncomplete(w, r, "", in) {
		return
	}

	org, err := h.api.CreateOrganization(r.Context(), in)
	if err != nil {
		h.handleFormError(w, r, "", in, err)
		return
	}
	http.Redirect(w, r, organizationsPath+"/"+org.ID, http.StatusSeeOther)
}

// Show は組織の詳細を表示する。
// GET /organizations/{id}
func (h *OrganizationHandler) Show(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	org, err := h.api.GetOrganization(r.Context(), id)
	if err != nil {
		h.renderer.renderUpstreamError(w, r, err, id)
		return
	}
	h.renderer.Render(w, r, http.StatusOK, pageOrganization, &organizationPage{
		basePage:     basePage{Title: org.Name, LoggedIn: true},
		Organization: org,
	})
}

// Edit は既存の値を入れた編集フォームを表示する。
// GET /organizations/{id}/edit
func (h *OrganizationHandler) Edit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	org, err := h.api.GetOrganization(r.Context(), id)
	if err != nil {
		h.renderer.renderUpstreamError(w, r, err, id)
		return
	}
	h.renderForm(w, r, id, model.OrganizationInput{
		Name:               org.Name,
		OrgType:            org.OrgType,
		Email:              org.Email,
		Phone:              org.Phone,
		Website:            org.Website,
		Description:        org.Description,
		TaxID:              org.TaxID,
		RegistrationNumber: org.RegistrationNumber,
		Address:            org.Address,
	}, nil, "")
}

// Update は組織を部分更新し、詳細ページへリダイレクトする。
// POST /organizations/{id}
func (h *OrganizationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	in := organizationInputFromForm(r)
	if h.rejectIncomplete(w, r, id, in) {
		return
	}

	if _, err := h.api.UpdateOrganization(r.Context(), id, in); err != nil {
		h.handleFormError(w, r, id, in, err)
		return
	}
	http.Redirect(w, r, organizationsPath+"/"+id, http.StatusSeeOther)
}

// Delete は組織を削除し、一覧へリダイレクトする。
// POST /organizations/{id}/delete
func (h *OrganizationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.api.DeleteOrganization(r.Context(), id); err != nil {
		h.renderer.renderUpstreamError(w, r, err, id)
		return
	}
	logger.FromContext(r.Context()).Info("organization deleted", slog.String("organization_id", id))
	http.Redirect(w, r, organizationsPath, http.StatusSeeOther)
}

// rejectIncomplete は企業組織の必須項目が欠けている場合にフォームを再表示してtrueを返す。
func (h *OrganizationHandler) rejectIncomplete(w http.ResponseWriter, r *http.Request, id string, in model.OrganizationInput) bool {
	missing := in.MissingBusinessFields()
	if len(missing) == 0 {
		return false
	}
	fieldErrors := make(map[string]string, len(missing))
	for _, name := range missing {
		fieldErrors[name] = fieldRequiredForBusiness
	}
	h.renderForm(w, r, id, in, fieldErrors,
		"Business organizations require: "+strings.Join(missing, ", "))
	return true
}

// handleFormError はフォーム送信の失敗を処理する。
// 入力エラーと権限エラーはフォームにバナーを表示し、それ以外はエラーページにする。
func (h *OrganizationHandler) handleFormError(w http.ResponseWriter, r *http.Request, id string, in model.OrganizationInput, err error) {
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) && (apiErr.Kind == apiclient.KindValidation ||
		apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusForbidden) {
		h.renderForm(w, r, id, in, nil, h.sanitizer.Text(apiclient.FormMessage(err)))
		return
	}
	h.renderer.renderUpstreamError(w, r, err, id)
}

func (h *OrganizationHandler) renderForm(w http.ResponseWriter, r *http.Request, id string, in model.OrganizationInput, fieldErrors map[string]string, message string) {
	title := "Create Organization"
	if id != "" {
		title = "Edit Organization"
	}
	if fieldErrors == nil {
		fieldErrors = map[string]string{}
	}
	h.renderer.Render(w, r, http.StatusOK, pageOrganizationForm, &organizationFormPage{
		basePage:    basePage{Title: title, LoggedIn: true},
		ID:          id,
		Input:       in,
		FieldErrors: fieldErrors,
		Error:       message,
	})
}

// organizationInputFromForm はフォームの値を前後の空白を除いて読み取る。
// 種別が不正な場合は個人組織として扱う。
func organizationInputFromForm(r *http.Request) model.OrganizationInput {
	field := func(name string) string {
		return strings.TrimSpace(r.PostFormValue(name))
	}

	orgType := model.OrganizationType(field("org_type"))
	if orgType != model.OrganizationTypeBusiness {
		orgType = model.OrganizationTypePersonal
	}

	return model.OrganizationInput{
		Name:               field("name"),
		OrgType:            orgType,
		Email:              field("email"),
		Phone:              field("phone"),
		Website:            field("website"),
		Description:        field("description"),
		TaxID:              field("tax_id"),
		RegistrationNumber: field("registration_number"),
		Address:            field("address"),
	}
}
