// SPDX-License-Identifier: MPL-2.0

package config

import (
	"github.com/hireadev/rbxauth/oidc"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option = oidc.Option

type options struct {
	withEnvironment map[string]string
}

func getDefaults() options {
	return options{}
}

func getOpts(opt ...Option) options {
	opts := getDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithEnvironment provides an optional set of variables which replaces the
// process environment.
func WithEnvironment(vars map[string]string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withEnvironment = vars
		}
	}
}
