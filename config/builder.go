// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"reflect"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Builder layers YAML documents over a base configuration. Scalars set by a
// later document win; pmu groups accumulate across documents.
type Builder struct {
	base     *Config
	overlays []string

	validate bool
	skips    []SkipValidation
}

// Use sets the base configuration; DefaultConfig is used otherwise
func (b *Builder) Use(c *Config) *Builder {
	b.base = c
	return b
}

// Merge queues YAML documents to layer over the base
func (b *Builder) Merge(yamls ...string) *Builder {
	b.overlays = append(b.overlays, yamls...)
	return b
}

// Validate makes Build validate the result
func (b *Builder) Validate(skips ...SkipValidation) *Builder {
	b.validate = true
	b.skips = skips
	return b
}

// Build applies every overlay in order. All parse and merge errors are
// reported together.
func (b *Builder) Build() (*Config, error) {
	cfg := b.base
	if cfg == nil {
		cfg = DefaultConfig()
	}

	opts := []func(*mergo.Config){
		mergo.WithOverride,
		mergo.WithTransformers(overlayTransformers{}),
	}

	var errs error
	for i, y := range b.overlays {
		overlay := &Config{}
		if err := yaml.Unmarshal([]byte(y), overlay); err != nil {
			errs = errors.Join(errs, fmt.Errorf("overlay %d: failed to parse YAML: %w", i, err))
			continue
		}
		overlay.sanitize()

		if err := mergo.Merge(cfg, overlay, opts...); err != nil {
			errs = errors.Join(errs, fmt.Errorf("overlay %d: failed to merge config: %w", i, err))
		}
	}
	if errs != nil {
		return nil, errs
	}

	if b.validate {
		if err := cfg.Validate(b.skips...); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

var (
	boolPtrType = reflect.TypeOf((*bool)(nil))
	groupsType  = reflect.TypeOf([]Group(nil))
)

// overlayTransformers lets an explicit false override true and appends
// groups instead of replacing them
type overlayTransformers struct{}

func (overlayTransformers) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	switch typ {
	case boolPtrType:
		return func(dst, src reflect.Value) error {
			if !src.IsNil() && dst.CanSet() {
				dst.Set(src)
			}
			return nil
		}
	case groupsType:
		return func(dst, src reflect.Value) error {
			if src.Len() > 0 && dst.CanSet() {
				dst.Set(reflect.AppendSlice(dst, src))
			}
			return nil
		}
	}
	return nil
}
