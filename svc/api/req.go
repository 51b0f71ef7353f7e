package api

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"slugbin/cfg"
	"slugbin/pkg/domain"
)

type CreateReq struct {
	Title      *string `json:"title"`
	Content    string  `json:"content"`
	Language   *string `json:"language"`
	Privacy    string  `json:"privacy"`
	Expiration string  `json:"expiration"`
}

type UpdateReq struct {
	Title       *string `json:"title"`
	Content     string  `json:"content"`
	Language    *string `json:"language"`
	SecretToken string  `json:"secret_token"`
}

type DeleteReq struct {
	SecretToken string `json:"secret_token"`
}

type CreateResp struct {
	Slug        string `json:"slug"`
	SecretToken string `json:"secret_token"`
}

type SuccessResp struct {
	Success bool `json:"success"`
}

func (req CreateReq) Validate(c *cfg.Cfg) (domain.CreateParams, error) {
	var params domain.CreateParams
	fields, err := validateFields(c, req.Title, req.Content, req.Language)
	if err != nil {
		return params, err
	}
	privacy, err := domain.ParsePrivacy(strings.TrimSpace(req.Privacy))
	if err != nil {
		return params, err
	}
	exp, err := domain.ParseExpiration(strings.TrimSpace(req.Expiration))
	if err != nil {
		return params, err
	}
	params.Fields = fields
	params.Privacy = privacy
	params.Expiration = exp
	return params, nil
}

func (req UpdateReq) Validate(c *cfg.Cfg) (domain.UpdateParams, error) {
	var params domain.UpdateParams
	if req.SecretToken == "" {
		return params, domain.ErrTokenRequired
	}
	fields, err := validateFields(c, req.Title, req.Content, req.Language)
	if err != nil {
		return params, err
	}
	params.Fields = fields
	params.Token = req.SecretToken
	return params, nil
}

// validateFields checks the editable fields. Content is stored byte for byte;
// title and language are normalised, and blank values become absent.
func validateFields(c *cfg.Cfg, title *string, content string, language *string) (domain.Fields, error) {
	var f domain.Fields
	if content == "" {
		return f, domain.ErrContentRequired
	}
	if c.MaxPasteSize > 0 && int64(len(content)) > c.MaxPasteSize {
		return f, domain.ErrPasteTooLarge
	}
	var err error
	if f.Title, err = cleanLabel("title", title, c.MaxTitleLength); err != nil {
		return f, err
	}
	if f.Language, err = cleanLabel("language", language, c.MaxLanguageLength); err != nil {
		return f, err
	}
	f.Content = content
	return f, nil
}

func cleanLabel(name string, s *string, max int) (*string, error) {
	if s == nil {
		return nil, nil
	}
	v := norm.NFC.String(*s)
	v = strings.Map(func(r rune) rune {
		if r == utf8.RuneError || unicode.IsControl(r) {
			return -1
		}
		return r
	}, v)
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if max > 0 && utf8.RuneCountInString(v) > max {
		return nil, domain.Invalid(fmt.Sprintf("%s must be at most %d characters", name, max))
	}
	return &v, nil
}
