package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/deevent/internal/model"
)

// ListOrganizations はユーザーが参照できる組織の一覧を取得する。
// ページネーション付きの {"results": [...]} とそのままの配列の両方を受け付ける。
func (c *Client) ListOrganizations(ctx context.Context) ([]model.Organization, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "organizations_list", http.MethodGet, "/organizations/", nil, &raw); err != nil {
		return nil, err
	}
	return decodeOrganizationList(raw)
}

func decodeOrganizationList(raw json.RawMessage) ([]model.Organization, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []model.Organization{}, nil
	}

	orgs := []model.Organization{}
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &orgs); err != nil {
			return nil, fmt.Errorf("decode organization list: %w", err)
		}
		return orgs, nil
	}

	var page struct {
		Results []model.Organization `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, fmt.Errorf("decode organization page: %w", err)
	}
	if page.Results != nil {
		orgs = page.Results
	}
	return orgs, nil
}

// CreateOrganization は組織を作成する。
func (c *Client) CreateOrganization(ctx context.Context, in model.OrganizationInput) (*model.Organization, error) {
	org := &model.Organization{}
	if err := c.do(ctx, "organizations_create", http.MethodPost, "/organizations/", in, org); err != nil {
		return nil, err
	}
	return org, nil
}

// GetOrganization は組織の詳細を取得する。
func (c *Client) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	org := &model.Organization{}
	if err := c.do(ctx, "organizations_get", http.MethodGet, organizationPath(id), nil, org); err != nil {
		return nil, err
	}
	return org, nil
}

// UpdateOrganization は組織を部分更新する。
func (c *Client) UpdateOrganization(ctx context.Context, id string, in model.OrganizationInput) (*model.Organization, error) {
	org := &model.Organization{}
	if err := c.do(ctx, "organizations_update", http.MethodPatch, organizationPath(id), in, org); err != nil {
		return nil, err
	}
	return org, nil
}

// DeleteOrganization は組織を削除する。
func (c *Client) DeleteOrganization(ctx context.Context, id string) error {
	return c.do(ctx, "organizations_delete", http.MethodDelete, organizationPath(id), nil, nil)
}

// MyOrganizations は所有している組織と所属している組織を取得する。
func (c *Client) MyOrganizations(ctx context.Context) (*model.MyOrganizations, error) {
	mine := &model.MyOrganizations{}
	if err := c.do(ctx, "organizations_mine", http.MethodGet, "/organizations/my-organizations/", nil, mine); err != nil {
		return nil, err
	}
	if mine.Owned == nil {
		mine.Owned = []model.Organization{}
	}
	if mine.MemberOf == nil {
		mine.MemberOf = []model.Organization{}
	}
	return mine, nil
}

func organizationPath(id string) string {
	return "/organizations/" + url.PathEscape(id) + "/"
}
