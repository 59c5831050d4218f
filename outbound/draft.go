package outbound

import (
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Attachment is one file sent with a message.
type Attachment struct {
	Name        string `json:"name" validate:"notblank"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data" validate:"min=1"`
}

// Draft is what the user composed. At least one of Text or Attachment is
// required; Text is the caption when both are set.
type Draft struct {
	Text       string      `json:"text"`
	Attachment *Attachment `json:"attachment"`
}

// FieldError is used to indicate an error with a specific draft field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError is returned by Send before any network activity.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func (err *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("outbound: invalid draft")
	for _, f := range err.Fields {
		b.WriteString("; ")
		b.WriteString(f.Field)
		b.WriteString(": ")
		b.WriteString(f.Error)
	}
	return b.String()
}

func (err *ValidationError) Unwrap() error {
	return err.Err
}

var (
	validate   *validator.Validate
	translator ut.Translator

	// custom validation tags
	notBlankTag         = "notblank"
	textOrAttachmentTag = "text_or_attachment"
)

func init() {
	validate = validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(notBlankTag, notBlankValidation)
	validate.RegisterStructValidation(draftStructValidation, Draft{})

	// The default translation func is already registered, so a noop one
	// satisfies RegisterTranslation.
	registerFn := func(ut.Translator) error { return nil }
	for _, tag := range []string{notBlankTag, textOrAttachmentTag} {
		_ = validate.RegisterTranslation(tag, translator, registerFn, translateCustomErrs)
	}
}

func translateCustomErrs(_ ut.Translator, fe validator.FieldError) string {
	switch fe.Tag() {
	case notBlankTag:
		return "this field cannot be blank"
	case textOrAttachmentTag:
		return "one of text or attachment is required"
	default:
		return ""
	}
}

func notBlankValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return false
}

// draftStructValidation requires text or an attachment; blank text counts
// as missing.
func draftStructValidation(sl validator.StructLevel) {
	d, ok := sl.Current().Interface().(Draft)
	if !ok {
		return
	}
	if strings.TrimSpace(d.Text) == "" && d.Attachment == nil {
		sl.ReportError(d.Text, "text", "Text", textOrAttachmentTag, "")
		sl.ReportError(d.Attachment, "attachment", "Attachment", textOrAttachmentTag, "")
	}
}

// Validate checks d, returning a *ValidationError.
func Validate(d Draft) error {
	err := validate.Struct(d)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return &ValidationError{Err: err}
	}
	flds := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Draft.")
		flds = append(flds, FieldError{Field: field, Error: fe.Translate(translator)})
	}
	return &ValidationError{Err: err, Fields: flds}
}
