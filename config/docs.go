// SPDX-License-Identifier: MPL-2.0

/*
Package config loads the server's configuration from the environment.

The configuration is read once at startup and isn't changed afterwards.
Every validation problem is reported together, so a misconfigured
deployment can be fixed in one pass.

	cfg, err := config.Load()
	if err != nil {
		// handle error
	}
	oc, err := cfg.OIDC()
	if err != nil {
		// handle error
	}
	p, err := oidc.NewProvider(oc, oidc.WithLogger(cfg.Logger()))
*/
package config
