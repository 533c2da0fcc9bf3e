package normalize

import "github.com/iancoleman/strcase"

// SnakeCase rewrites a field name to lower snake_case. Dots, hyphens and
// spaces become underscores, a case change starts a new word, an acronym
// ends before its last capital when a lowercase letter follows
// ("HTTPServer" -> "http_server") and digit runs form their own word
// ("price24h" -> "price_24_h"). Already snake_case input is unchanged.
func SnakeCase(name string) string {
	return strcase.ToSnake(name)
}
