// Copyright 2026 The Screenlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for screenlink
// binaries.
//
// Configuration is a single file passed via the --config flag. There
// are no fallbacks or automatic discovery; this keeps deployments
// deterministic and auditable. YAML is the primary format; .json and
// .jsonc files are accepted as well (comments and trailing commas are
// stripped before parsing).
//
// [DefaultServer] and [DefaultClient] return fully-populated defaults;
// a config file overrides only the fields it sets.
package config
