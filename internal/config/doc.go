// Package config loads streamd configuration and resolves its filesystem paths.
//
// Configuration is merged from the global file in the XDG config directory,
// project files (streamd.json, streamd.jsonc, streamd.yaml) and the file
// named by STREAMD_CONFIG, in that order. JSONC comments are stripped with
// tidwall/jsonc. String values may reference {env:NAME} and {file:path};
// relative file paths resolve against the directory of the config file.
//
// A .env file in the project directory is loaded first without overriding
// variables that are already set. Provider API keys are then taken from
// ANTHROPIC_API_KEY, OPENAI_API_KEY and ARK_API_KEY when the config leaves
// them empty, and STREAMD_MODEL overrides the default model.
package config
