package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"takeout-ingestion-service/pkg/errors"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

type validatorSvc struct {
	validate   *validator.Validate
	translator ut.Translator
}

var (
	vOnce sync.Once
	vSvc  *validatorSvc
)

// requestValidator returns the shared validator with english messages keyed by json names
func requestValidator() *validatorSvc {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		vSvc = &validatorSvc{validate: v, translator: trans}
	})
	return vSvc
}

// decodeJSON reads r's body into T and validates it; callers bound the body with http.MaxBytesReader
func decodeJSON[T any](r *http.Request) (T, error) {
	var zero T
	defer r.Body.Close()

	buf := make([]byte, 1)
	n, _ := r.Body.Read(buf)
	if n == 0 {
		return zero, errors.ValidationError(errors.CodeMissingField, "body", nil, nil).
			WithSuggestion("send a JSON object with content and fileName")
	}
	reader := io.MultiReader(bytes.NewReader(buf[:n]), r.Body)

	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()

	var dst T
	if err := dec.Decode(&dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return zero, errors.ValidationError(errors.CodeOutOfRange, "body", maxErr.Limit, err).
				WithSuggestion("upload a smaller export or raise server.max_body_bytes")
		}
		return zero, errors.ValidationError(errors.CodeInvalidValue, "body", "invalid JSON", err)
	}
	if dec.More() {
		return zero, errors.ValidationError(errors.CodeInvalidValue, "body", "unexpected trailing data", nil)
	}

	if err := requestValidator().validate.Struct(dst); err != nil {
		field, msg := validationFieldAndMessage(err)
		return zero, errors.New(errors.CategoryValidation, errors.CodeInvalidValue, msg).
			WithContext("field", field).
			WithSuggestion("check the request body fields")
	}

	return dst, nil
}

// validationFieldAndMessage returns the first failing field and its translated message
func validationFieldAndMessage(err error) (field, message string) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			return fe.Field(), fe.Translate(requestValidator().translator)
		}
	}
	return "", err.Error()
}
