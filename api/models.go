package api

// CSRFTokenResponse is returned by GET /csrf-token. The signed half of the
// pair travels in a cookie.
type CSRFTokenResponse struct {
	CSRFToken string `json:"csrf_token"`
}

// UserBody is the request body for POST /register and POST /login.
type UserBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserInfo is returned by POST /register and GET /user.
type UserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// TodoBody is the request body for POST /todo and PUT /todos/{id}.
// Omitted fields are left unchanged on update.
type TodoBody struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

// MessageResponse is returned by endpoints that only report success.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is returned for all error cases. URL is set for
// authentication and CSRF failures.
type ErrorResponse struct {
	Detail string `json:"detail"`
	URL    string `json:"url,omitempty"`
}
