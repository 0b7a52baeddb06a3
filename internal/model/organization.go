package model

import "time"

// OrganizationType は組織の種別を表す。
type OrganizationType string

const (
	// OrganizationTypePersonal は個人アーティスト向けの組織。
	OrganizationTypePersonal OrganizationType = "personal"
	// OrganizationTypeBusiness は企業向けの組織。管理者の承認が必要。
	OrganizationTypeBusiness OrganizationType = "business"
)

// Organization はDeEvent APIの組織リソースを表す。
type Organization struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	Slug               string           `json:"slug"`
	OrgType            OrganizationType `json:"org_type"`
	Status             string           `json:"status"`
	Email              string           `json:"email"`
	Phone              string           `json:"phone"`
	Website            string           `json:"website"`
	Description        string           `json:"description"`
	TaxID              string           `json:"tax_id"`
	RegistrationNumber string           `json:"registration_number"`
	Address            string           `json:"address"`
	OwnerEmail         string           `json:"owner_email"`
	OwnerName          string           `json:"owner_name"`
	IsVerified         bool             `json:"is_verified"`
	MemberCount        int              `json:"member_count"`
	IsOwner            bool             `json:"is_owner"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// OrganizationInput は組織の作成・更新時に送信するフィールド。
// 空文字列のフィールドは送信しない。
type OrganizationInput struct {
	Name               string           `json:"name,omitempty"`
	OrgType            OrganizationType `json:"org_type,omitempty"`
	Email              string           `json:"email,omitempty"`
	Phone              string           `json:"phone,omitempty"`
	Website            string           `json:"website,omitempty"`
	Description        string           `json:"description,omitempty"`
	TaxID              string           `json:"tax_id,omitempty"`
	RegistrationNumber string           `json:"registration_number,omitempty"`
	Address            string           `json:"address,omitempty"`
}

// MissingBusinessFields は企業組織に必須のフィールドのうち未入力のものを返す。
// 個人組織の場合は常に空を返す。
func (in OrganizationInput) MissingBusinessFields() []string {
	if in.OrgType != OrganizationTypeBusiness {
		return nil
	}
	var missing []string
	if in.TaxID == "" {
		missing = append(missing, "tax_id")
	}
	if in.Address == "" {
		missing = append(missing, "address")
	}
	if in.Phone == "" {
		missing = append(missing, "phone")
	}
	if in.Email == "" {
		missing = append(missing, "email")
	}
	return missing
}

// MyOrganizations はログインユーザーが所有・所属する組織の一覧。
type MyOrganizations struct {
	Owned    []Organization `json:"owned"`
	MemberOf []Organization `json:"member_of"`
}
