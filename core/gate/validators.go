package gate

import (
	"fmt"
	"unicode/utf8"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/edutracker/core"
)

var pwdMinLenTag = "pwdminlen"

func minLenText(n int) string {
	return fmt.Sprintf("password must contain at least %d characters", n)
}

// InitValidators registers the password policy: a minimum length only.
func InitValidators(validate *validator.Validate, translator ut.Translator, minLen int) {
	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		cp, ok := sl.Current().Interface().(ChangePassword)
		if !ok {
			return
		}
		if cp.New != "" && utf8.RuneCountInString(cp.New) < minLen {
			sl.ReportError(cp.New, "new_password", "New", pwdMinLenTag, "")
		}
	}, ChangePassword{})
	core.RegisterCustomTranslation(validate, translator, pwdMinLenTag, minLenText(minLen))
}
