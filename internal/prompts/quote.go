package prompts

import (
	"fmt"
	"strconv"
)

// QuoteSystem is the system message for quote generation.
const QuoteSystem = "You are a poetic writer creating brief, elegant quotes."

// quoteTemplate takes, in order: temperature, temperature label,
// humidity, humidity label.
const quoteTemplate = `Create a SHORT poetic quote (maximum 80 characters) inspired by these indoor conditions:
- Temperature: %s°C (%s)
- Humidity: %s%% (%s)

The quote should be:
- Literary and aesthetic
- Inspirational or calming
- Related to the atmosphere
- Very brief and elegant

Examples:
- "Warmth embraces, comfort awaits"
- "In stillness, serenity blooms"
- "Cool air whispers peace"

Return ONLY the quote, nothing else.`

// QuotePrompt returns the user message asking for a quote that fits
// the given room conditions. tempLabel and humidLabel are the
// descriptive words (warm, dry, ...) chosen by the caller.
func QuotePrompt(temperature float64, tempLabel string, humidity float64, humidLabel string) string {
	return fmt.Sprintf(quoteTemplate, formatReading(temperature), tempLabel, formatReading(humidity), humidLabel)
}

// formatReading renders a sensor value without trailing zeros, so 25
// prints as "25" and 22.5 as "22.5".
func formatReading(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
