package hitl

// requiredScopes is the static action_type → required scopes mapping
// §4.6 step 4 requires. Extending the set of executable action types
// means adding an entry here and a case in executor.go's dispatch switch.
var requiredScopes = map[string][]string{
	"update_product_price": {"read_products", "write_products"},
	"create_discount_code": {"read_discounts", "write_discounts"},
	"adjust_inventory":     {"read_inventory", "write_inventory"},
}

// RequiredScopesFor returns the static scopes an action_type needs, and
// whether the action_type is known at all.
func RequiredScopesFor(actionType string) ([]string, bool) {
	scopes, ok := requiredScopes[actionType]
	return scopes, ok
}
