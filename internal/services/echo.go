package services

import "github.com/basket/appcd/internal/dispatcher"

// Echo is a HandlerFunc for "/echo/:v" that writes back the captured
// :v parameter. It exists mainly as a minimal parameterized-route
// fixture (spec.md §8, scenario S2).
func Echo(ctx *dispatcher.Context, next dispatcher.Next) (any, error) {
	v, ok := ctx.Params["v"]
	if !ok {
		return nil, dispatcher.ErrBadRequest("missing :v segment")
	}
	ctx.Response.Write(200, v)
	return nil, nil
}
