// Package wizard は4ステップのユーザー登録ウィザードの状態遷移と検証を提供する。
// HTTPやセッションストアには依存せず、下書きはJSONとして呼び出し側が保存する。
package wizard

// UserType は登録時に選択するユーザー種別。
type UserType string

const (
	UserTypePersonal  UserType = "personal"
	UserTypeArtist    UserType = "artist"
	UserTypeOrganizer UserType = "organizer"
)

// UserTypeOption は種別選択画面に表示する選択肢。
type UserTypeOption struct {
	Value       UserType
	Label       string
	Description string
}

// UserTypeOptions は表示順に並べた種別の選択肢。
var UserTypeOptions = []UserTypeOption{
	{Value: UserTypePersonal, Label: "Personal", Description: "For individuals attending events"},
	{Value: UserTypeArtist, Label: "Artist/Creator", Description: "Musicians, podcasters, content creators"},
	{Value: UserTypeOrganizer, Label: "Event Organizer", Description: "For hosting your own events"},
}

// Counties は居住地の選択肢として表示するケニアの地域。
var Counties = []string{
	"Nairobi", "Mombasa", "Kisumu", "Nakuru", "Eldoret", "Thika", "Kisii",
	"Meru", "Nyeri", "Machakos", "Kiambu", "Kitale", "Kakamega", "Bungoma",
}

// DefaultCountry は国が未設定の場合に送信する国コード。
const DefaultCountry = "KE"

// Valid は既知の種別かどうかを返す。
func (t UserType) Valid() bool {
	switch t {
	case UserTypePersonal, UserTypeArtist, UserTypeOrganizer:
		return true
	}
	return false
}

// Step はウィザードのステップ。
type Step int

const (
	StepUserType Step = iota
	StepCredentials
	StepPersonalInfo
	StepReview
)

// StepLabels は進捗表示用のステップ名。
var StepLabels = []string{"User Type", "Account Details", "Personal Information", "Complete"}

// Label はステップ名を返す。
func (s Step) Label() string {
	if s < StepUserType || s > StepReview {
		return ""
	}
	return StepLabels[s]
}

// フォームのフィールド名。エラーマップのキーとHTMLのname属性を兼ねる。
const (
	FieldUserType      = "user_type"
	FieldEmail         = "email"
	FieldPassword      = "password"
	FieldPassword2     = "password2"
	FieldFirstName     = "first_name"
	FieldLastName      = "last_name"
	FieldPhone         = "phone"
	FieldCountry       = "country"
	FieldCity          = "city"
	FieldCounty        = "county"
	FieldAgreedToTerms = "agreed_to_terms"
)

// StepFields は各ステップの画面で入力されるフィールド。
// 種別はSelectUserTypeで別途扱う。
var StepFields = map[Step][]string{
	StepUserType:     nil,
	StepCredentials:  {FieldEmail, FieldPassword, FieldPassword2},
	StepPersonalInfo: {FieldFirstName, FieldLastName, FieldPhone, FieldCity, FieldCounty, FieldAgreedToTerms},
	StepReview:       nil,
}

// Form は登録フォームの入力値。
type Form struct {
	UserType      UserType `json:"user_type"`
	IsOrganizer   bool     `json:"is_organizer"`
	Email         string   `json:"email"`
	Password      string   `json:"password"`
	Password2     string   `json:"password2"`
	FirstName     string   `json:"first_name"`
	LastName      string   `json:"last_name"`
	Phone         string   `json:"phone"`
	Country       string   `json:"country"`
	City          string   `json:"city"`
	County        string   `json:"county"`
	AgreedToTerms bool     `json:"agreed_to_terms"`
}

// NewForm は初期値を設定したフォームを返す。
func NewForm() Form {
	return Form{
		UserType: UserTypePersonal,
		Country:  DefaultCountry,
	}
}
