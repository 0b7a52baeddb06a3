package wizard

import "github.com/hitoshi/deevent/internal/model"

// Payload は登録APIに送るリクエストボディを組み立てる。
// 利用規約の同意とユーザー種別は含めず、電話番号を整形し、国の既定値を補う。
func (w *Wizard) Payload() model.RegistrationPayload {
	f := w.Form

	phone := f.Phone
	if phone != "" {
		phone = FormatPhoneNumber(phone)
	}

	country := f.Country
	if country == "" {
		country = DefaultCountry
	}

	return model.RegistrationPayload{
		Email:       f.Email,
		Password:    f.Password,
		Password2:   f.Password2,
		FirstName:   f.FirstName,
		LastName:    f.LastName,
		Phone:       phone,
		Country:     country,
		City:        f.City,
		County:      f.County,
		IsOrganizer: f.IsOrganizer,
	}
}
