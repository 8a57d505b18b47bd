package engine

import (
	"errors"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names so messages match the request body.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct tags on v and returns an InvalidRequestError listing
// every failing field.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Wrap(KindInvalidRequest, err, "invalid request")
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace()+" failed "+fe.Tag())
	}
	return Errorf(KindInvalidRequest, "%s", strings.Join(fields, "; "))
}

// checkContent rejects content that cannot be decoded as text.
func checkContent(content string) error {
	if !utf8.ValidString(content) {
		return Errorf(KindInvalidContent, "content is not valid UTF-8")
	}
	if strings.ContainsRune(content, 0) {
		return Errorf(KindInvalidContent, "content contains NUL bytes")
	}
	return nil
}
