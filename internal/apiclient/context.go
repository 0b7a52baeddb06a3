package apiclient

import "context"

type contextKey struct{}

// WithAccessToken はAPI呼び出しに使うアクセストークンをcontextに設定する。
// このcontextで行う呼び出しには Authorization: Bearer <token> が付与される。
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, contextKey{}, token)
}

// AccessTokenFromContext はcontextに設定されたアクセストークンを返す。
func AccessTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(contextKey{}).(string)
	return token
}
