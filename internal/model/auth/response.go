package auth

// Response 认证服务的响应体，成功时携带 jwt，失败时携带 error
type Response struct {
	JWT   string     `json:"jwt,omitempty"`
	User  *User      `json:"user,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

// User 认证成功后返回的用户信息
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// ErrorBody 服务端错误信息
type ErrorBody struct {
	Status  int    `json:"status,omitempty"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
}
