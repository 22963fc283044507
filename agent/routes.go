package agent

// Route classifies a user question.
type Route string

const (
	// RouteSQLQuery marks questions that require database access.
	RouteSQLQuery Route = "sql_query"
	// RouteGeneralConversation marks questions answerable without data.
	RouteGeneralConversation Route = "general_conversation"
)

// ParseRoute maps a route label from model output onto the closed enum. An
// unrecognized label fails closed to general conversation, reported through
// the second return, so free-form model text can never steer the turn onto
// an unintended path or crash it.
func ParseRoute(s string) (Route, bool) {
	switch Route(s) {
	case RouteSQLQuery:
		return RouteSQLQuery, true
	case RouteGeneralConversation:
		return RouteGeneralConversation, true
	default:
		return RouteGeneralConversation, false
	}
}
