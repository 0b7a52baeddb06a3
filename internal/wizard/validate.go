package wizard

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var (
	looseEmailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)
	kenyanPhonePrefix = regexp.MustCompile(`^(?:\+254|0|7|1)`)
)

const minPhoneLength = 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// エラーのフィールド名をformタグの名前にする
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	must(v.RegisterValidation("looseemail", func(fl validator.FieldLevel) bool {
		return looseEmailPattern.MatchString(fl.Field().String())
	}))
	must(v.RegisterValidation("kephone", func(fl validator.FieldLevel) bool {
		return kenyanPhonePrefix.MatchString(strings.TrimSpace(fl.Field().String()))
	}))
	must(v.RegisterValidation("phonelen", func(fl validator.FieldLevel) bool {
		return utf8.RuneCountInString(strings.TrimSpace(fl.Field().String())) >= minPhoneLength
	}))

	return v
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

type userTypeInput struct {
	UserType string `form:"user_type" validate:"required,oneof=personal artist organizer"`
}

type credentialsInput struct {
	Email     string `form:"email" validate:"required,looseemail"`
	Password  string `form:"password" validate:"required,min=8"`
	Password2 string `form:"password2" validate:"required,eqfield=Password"`
}

type personalInfoInput struct {
	FirstName     string `form:"first_name" validate:"required"`
	LastName      string `form:"last_name" validate:"required"`
	Phone         string `form:"phone" validate:"required,kephone,phonelen"`
	AgreedToTerms bool   `form:"agreed_to_terms" validate:"required"`
}

// fieldMessages はフィールドとタグの組み合わせごとの表示メッセージ。
var fieldMessages = map[string]string{
	"user_type.required":       "Please select a user type",
	"user_type.oneof":          "Please select a user type",
	"email.required":           "Email is required",
	"email.looseemail":         "Email is invalid",
	"password.required":        "Password is required",
	"password.min":             "Password must be at least 8 characters",
	"password2.required":       "Please confirm your password",
	"password2.eqfield":        "Passwords do not match",
	"first_name.required":      "First name is required",
	"last_name.required":       "Last name is required",
	"phone.required":           "Phone number is required",
	"phone.kephone":            "Enter a valid Kenyan phone number",
	"phone.phonelen":           "Phone number too short",
	"agreed_to_terms.required": "You must agree to the terms and conditions",
}

// ValidateStep は指定ステップの入力だけを検証し、フィールド名からメッセージへのマップを返す。
// 問題がない場合は空のマップを返す。
func ValidateStep(step Step, form Form) map[string]string {
	var input any
	switch step {
	case StepUserType:
		input = userTypeInput{UserType: string(form.UserType)}
	case StepCredentials:
		input = credentialsInput{
			Email:     form.Email,
			Password:  form.Password,
			Password2: form.Password2,
		}
	case StepPersonalInfo:
		input = personalInfoInput{
			FirstName:     form.FirstName,
			LastName:      form.LastName,
			Phone:         form.Phone,
			AgreedToTerms: form.AgreedToTerms,
		}
	default:
		return map[string]string{}
	}

	errs := map[string]string{}
	err := validate.Struct(input)
	if err == nil {
		return errs
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		panic(err)
	}
	for _, fe := range verrs {
		msg, ok := fieldMessages[fe.Field()+"."+fe.Tag()]
		if !ok {
			msg = "Invalid value"
		}
		errs[fe.Field()] = msg
	}
	return errs
}
