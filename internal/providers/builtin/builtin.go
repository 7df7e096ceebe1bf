// Package builtin links every vendor adapter into the binary. Importing it
// for side effects registers anthropic, azure-openai, google and openai.
package builtin

import (
	// Import provider packages to trigger their init() registration
	_ "llmbench/internal/providers/anthropic"
	_ "llmbench/internal/providers/azure"
	_ "llmbench/internal/providers/gemini"
	_ "llmbench/internal/providers/openai"
)
