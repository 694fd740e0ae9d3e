package core

import "context"

type selfKey struct{}

func withObject(ctx context.Context, obj *Object) context.Context {
	return context.WithValue(ctx, selfKey{}, obj)
}

// Self returns the object whose handler is running with ctx.
func Self(ctx context.Context) (*Object, bool) {
	obj, ok := ctx.Value(selfKey{}).(*Object)
	return obj, ok
}
