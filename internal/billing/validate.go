// Package billing は請求書と作業記録のドメインロジックを提供する。
package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/invisibilled/internal/model"
)

const dateLayout = "2006-01-02"

// validate はパッケージ共通のバリデーター。フィールド名にはJSONタグ名を使う。
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct は構造体を検証し、違反があればValidationErrorを返す。
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("入力検証に失敗しました: %w", err)
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		if _, dup := fields[name]; dup {
			continue
		}
		fields[name] = describeViolation(fe)
	}
	return model.NewValidationError(fields)
}

func describeViolation(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return "must not be empty"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed on '%s'", fe.Tag())
	}
}

// parseDate はYYYY-MM-DDまたはRFC3339形式の日付を解析する。
// RFC3339の場合は記載されたオフセットでの日付部分を採用し、UTCの0時として返す。
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

// OptionalString はJSONで「キーなし」と「null」を区別して受け取る文字列。
// キーがない場合はSetがfalse、nullの場合はSetがtrueでValueがnilになる。
type OptionalString struct {
	Set   bool
	Value *string
}

// UnmarshalJSON はjson.Unmarshalerを実装する。
func (o *OptionalString) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}
