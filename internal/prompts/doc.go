// Package prompts contains the LLM prompt templates the bridge sends to
// the completion provider.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation and can be validated by
// tests. Each prompt gets its own file with an exported function that
// accepts the dynamic parts and returns the fully interpolated text.
package prompts
