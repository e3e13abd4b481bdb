package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched
// when allowEmpty is set.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	if r.Body == nil {
		if allowEmpty {
			return nil
		}
		return errBadRequestBody
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return errBadRequestBody
	}
	return nil
}

// validateRequest runs struct tag validation and returns the failures keyed
// by JSON field name, translated for display.
func validateRequest(req any) map[string]string {
	err := requestValidator.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return map[string]string{"body": localizedStatusMessage(http.StatusBadRequest)}
	}

	out := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		out[fieldPath(fe)] = translateTag(fe)
	}
	return out
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func translateTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "必須項目です。"
	case "email":
		return "メールアドレスの形式が不正です。"
	case "oneof":
		return "次のいずれかを指定してください: " + fe.Param()
	case "min", "gte":
		if fe.Kind() == reflect.Slice {
			return fe.Param() + " 件以上指定してください。"
		}
		return fe.Param() + " 以上で指定してください。"
	case "max", "lte":
		if fe.Kind() == reflect.String {
			return fe.Param() + " 文字以内で指定してください。"
		}
		return fe.Param() + " 以下で指定してください。"
	case "datetime":
		return "形式が不正です (" + fe.Param() + ")。"
	case "iso4217":
		return "通貨コードが不正です。"
	case "dive":
		return "値が不正です。"
	default:
		return "値が不正です。"
	}
}
