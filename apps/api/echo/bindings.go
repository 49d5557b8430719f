package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/mazoezi/core"
)

// Ordering binds the "ordering" query param ("field" or "-field" for
// descending). Only fields present in allowed are retained.
type Ordering struct {
	ordering []core.DBOrdering
}

func (o *Ordering) Bind(ctx echo.Context, allowed ...string) {
	params := strings.Split(ctx.QueryParam("ordering"), ",")
	o.ordering = make([]core.DBOrdering, 0, len(params))

	isAllowed := func(field string) bool {
		if len(allowed) == 0 {
			return true
		}
		for _, f := range allowed {
			if f == field {
				return true
			}
		}
		return false
	}

	for _, param := range params {
		param = core.CleanString(param, true)
		if param == "" {
			continue
		}
		ord := core.DBOrdering{Field: param, Ascending: true}
		if strings.HasPrefix(param, "-") {
			ord.Field = param[1:]
			ord.Ascending = false
		}
		if isAllowed(ord.Field) {
			o.ordering = append(o.ordering, ord)
		}
	}
}

func (o *Ordering) Ordering() []core.DBOrdering {
	return o.ordering
}
