package attendance

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/edutracker/core"
)

var (
	apiKeyTag  = "apikey"
	apiKeyText = "an API key is required for this provider"
)

// InitValidators registers the attendance validation rules.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(remoteConfigStructValidation, RemoteConfig{})
	core.RegisterCustomTranslation(validate, translator, apiKeyTag, apiKeyText)
}

// remoteConfigStructValidation requires an API key for every provider but firestore,
// which may rely on application default credentials.
func remoteConfigStructValidation(sl validator.StructLevel) {
	rc, ok := sl.Current().Interface().(RemoteConfig)
	if !ok {
		return
	}
	if rc.APIKey == "" && rc.Provider != ProviderFirestore {
		sl.ReportError(rc.APIKey, "apiKey", "APIKey", apiKeyTag, "")
	}
}
