// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks field constraints (struct tags) and cross-field rules.
// All violations are reported together.
func Validate(cfg Config) error {
	var problems []string

	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s: failed %q (%v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}

	seen := make(map[string]bool, len(cfg.Auth.Tokens))
	for i, t := range cfg.Auth.Tokens {
		if seen[t.Token] {
			problems = append(problems, fmt.Sprintf("Config.Auth.Tokens[%d]: duplicate token", i))
		}
		seen[t.Token] = true
	}

	if cfg.Transcode.KillGrace >= cfg.Transcode.IdleGrace {
		problems = append(problems, "Config.Transcode.KillGrace: must be shorter than IdleGrace")
	}
	if cfg.Transcode.HWAccel == "vaapi" && cfg.Transcode.VAAPIDevice == "" {
		problems = append(problems, "Config.Transcode.VAAPIDevice: required when hwaccel is vaapi")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
