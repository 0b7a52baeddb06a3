package wizard

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Transition はNextの結果。
type Transition int

const (
	// TransitionStay は検証に失敗し、同じステップに留まったことを示す。
	TransitionStay Transition = iota
	// TransitionAdvance は次のステップへ進んだことを示す。
	TransitionAdvance
	// TransitionSubmit は最終ステップの検証に成功し、登録を送信すべきことを示す。
	TransitionSubmit
)

func (t Transition) String() string {
	switch t {
	case TransitionStay:
		return "stay"
	case TransitionAdvance:
		return "advance"
	case TransitionSubmit:
		return "submit"
	}
	return "unknown"
}

var (
	// ErrUnknownUserType は未知のユーザー種別が指定された場合のエラー。
	ErrUnknownUserType = errors.New("unknown user type")
	// ErrUnknownField は未知のフィールド名が指定された場合のエラー。
	ErrUnknownField = errors.New("unknown form field")
)

const (
	dashboardPath          = "/dashboard"
	organizerDashboardPath = "/dashboard/organizer"
)

// Wizard は登録ウィザードの状態。
// Errorは送信失敗時のバナー、Successは送信成功時のメッセージ。
type Wizard struct {
	Step     Step              `json:"step"`
	Form     Form              `json:"form"`
	Errors   map[string]string `json:"errors,omitempty"`
	Error    string            `json:"error,omitempty"`
	Success  string            `json:"success,omitempty"`
	Redirect string            `json:"redirect,omitempty"`
}

// New は最初のステップから始まるウィザードを返す。
func New() *Wizard {
	return &Wizard{
		Step:   StepUserType,
		Form:   NewForm(),
		Errors: map[string]string{},
	}
}

// Load は保存済みの下書きJSONからウィザードを復元する。
// 空の場合は新しいウィザードを返す。
func Load(data string) (*Wizard, error) {
	if data == "" {
		return New(), nil
	}

	w := New()
	if err := json.Unmarshal([]byte(data), w); err != nil {
		return nil, fmt.Errorf("failed to decode registration draft: %w", err)
	}
	if w.Step < StepUserType || w.Step > StepReview {
		return nil, fmt.Errorf("registration draft has invalid step %d", w.Step)
	}
	if w.Errors == nil {
		w.Errors = map[string]string{}
	}
	return w, nil
}

// Marshal は下書きとして保存するJSONを返す。
func (w *Wizard) Marshal() (string, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("failed to encode registration draft: %w", err)
	}
	return string(data), nil
}

// Next は現在のステップだけを検証する。
// 失敗時はエラーマップを置き換えてステップを維持する。
// 成功時はエラーをクリアし、最終ステップ以外なら次へ進む。
func (w *Wizard) Next() Transition {
	errs := ValidateStep(w.Step, w.Form)
	if len(errs) > 0 {
		w.Errors = errs
		return TransitionStay
	}

	w.Errors = map[string]string{}
	if w.Step < StepReview {
		w.Step++
		return TransitionAdvance
	}
	return TransitionSubmit
}

// Back は検証せずに1つ前のステップへ戻る。最初のステップでは何もしない。
func (w *Wizard) Back() {
	if w.Step > StepUserType {
		w.Step--
	}
}

// SelectUserType はユーザー種別を設定し、主催者フラグを導出する。
func (w *Wizard) SelectUserType(t UserType) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownUserType, t)
	}
	w.Form.UserType = t
	w.Form.IsOrganizer = t == UserTypeOrganizer
	return nil
}

// SetField はフィールドの値を更新する。値が変わった場合はそのフィールドのエラーを消す。
// agreed_to_termsは "on"、"true"、"1" を真として扱う。
func (w *Wizard) SetField(name, value string) error {
	var changed bool
	switch name {
	case FieldUserType:
		before := w.Form.UserType
		if err := w.SelectUserType(UserType(value)); err != nil {
			return err
		}
		changed = before != w.Form.UserType
	case FieldEmail:
		changed = setString(&w.Form.Email, value)
	case FieldPassword:
		changed = setString(&w.Form.Password, value)
	case FieldPassword2:
		changed = setString(&w.Form.Password2, value)
	case FieldFirstName:
		changed = setString(&w.Form.FirstName, value)
	case FieldLastName:
		changed = setString(&w.Form.LastName, value)
	case FieldPhone:
		changed = setString(&w.Form.Phone, value)
	case FieldCountry:
		changed = setString(&w.Form.Country, value)
	case FieldCity:
		changed = setString(&w.Form.City, value)
	case FieldCounty:
		changed = setString(&w.Form.County, value)
	case FieldAgreedToTerms:
		agreed := value == "on" || value == "true" || value == "1"
		changed = w.Form.AgreedToTerms != agreed
		w.Form.AgreedToTerms = agreed
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}

	if changed {
		delete(w.Errors, name)
	}
	return nil
}

func setString(dst *string, value string) bool {
	if *dst == value {
		return false
	}
	*dst = value
	return true
}

// BeginSubmit は送信前にバナーをクリアする。
func (w *Wizard) BeginSubmit() {
	w.Error = ""
	w.Success = ""
	w.Redirect = ""
}

// SubmitFailed は送信失敗のメッセージを設定する。ステップは維持する。
func (w *Wizard) SubmitFailed(message string) {
	w.Error = message
	w.Success = ""
	w.Redirect = ""
}

// SubmitSucceeded は成功メッセージと遷移先を設定する。
// 遷移先は返されたユーザーが主催者かどうかで決まる。
func (w *Wizard) SubmitSucceeded(message string, isOrganizer bool) {
	w.Error = ""
	w.Success = message + " Redirecting to dashboard..."
	w.Redirect = DashboardPathFor(isOrganizer)
}

// DashboardPathFor は登録後の遷移先を返す。
func DashboardPathFor(isOrganizer bool) string {
	if isOrganizer {
		return organizerDashboardPath
	}
	return dashboardPath
}
