package echoapi

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mazoezi/core"
	"github.com/trezcool/mazoezi/core/project"
	"github.com/trezcool/mazoezi/core/user"
)

type projectApi struct {
	svc    *project.Service
	usrSvc *user.Service
	conf   *core.Config
	logger core.Logger
}

func registerProjectAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *project.Service,
	usrSvc *user.Service,
	conf *core.Config,
	logger core.Logger,
) {
	api := projectApi{svc: svc, usrSvc: usrSvc, conf: conf, logger: logger}

	pg := g.Group("/mini-projects", jwt)
	pg.GET("", api.query)
	pg.POST("", api.create, trainerMiddleware())

	dg := pg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, trainerMiddleware())
	dg.PATCH("", api.update, trainerMiddleware())
	dg.DELETE("", api.destroy, trainerMiddleware())

	dg.GET("/my_progress", api.myProgress)
	dg.PATCH("/my_progress", api.updateMyProgress, api.progressFieldsMiddleware())
	dg.PUT("/my_progress", api.updateMyProgress, api.progressFieldsMiddleware())

	dg.POST("/comment", api.comment, trainerMiddleware())
}

// progressFieldsMiddleware rejects trainee requests whose body carries keys
// outside the trainee-writable field set. Trainers bypass the restriction.
func (api *projectApi) progressFieldsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errHttpUnauthorized
			}
			if claims.IsTrainer {
				return next(ctx)
			}

			body, err := ioutil.ReadAll(ctx.Request().Body)
			if err != nil {
				return err
			}
			ctx.Request().Body = ioutil.NopCloser(bytes.NewReader(body))

			if err = project.CheckTraineeProgressFields(body); err != nil {
				if fsErr, ok := err.(*project.FieldScopeError); ok {
					api.logger.Info(fmt.Sprintf(
						"denied progress update for %q: unexpected fields %v", claims.Username, fsErr.Fields))
				}
				return err
			}
			return next(ctx)
		}
	}
}

func (api *projectApi) query(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errHttpUnauthorized
	}

	var filter project.QueryFilter
	if err = ctx.Bind(&filter); err != nil {
		return err
	}
	filter.Clean()

	var ordering Ordering
	ordering.Bind(ctx, "due_date", "priority", "created_at")

	projects, err := api.svc.Query(contextCtx(ctx), actor, &filter, ordering.Ordering())
	if err != nil {
		return err
	}

	out := make([]project.Project, len(projects))
	for i, proj := range projects {
		out[i] = api.serialize(ctx, actor, proj)
	}
	return ctx.JSON(http.StatusOK, out)
}

func (api *projectApi) create(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errHttpUnauthorized
	}

	var data project.NewProject
	if err = ctx.Bind(&data); err != nil {
		return err
	}
	if err = data.Validate(); err != nil {
		return err
	}

	proj, err := api.svc.Create(contextCtx(ctx), actor, data)
	if err != nil {
		// creation touches several tables; log the full context and degrade
		// to a generic 500 rather than leak internals
		api.logger.Error(fmt.Sprintf("error creating project: %+v", err), err, actor)
		body := httpErrorBody("an error occurred while creating the project")
		if api.conf.Debug {
			body["error"] = err.Error()
			body["payload"] = data
		}
		return ctx.JSON(http.StatusInternalServerError, body)
	}
	return ctx.JSON(http.StatusCreated, api.serialize(ctx, actor, proj))
}

func (api *projectApi) retrieve(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errHttpUnauthorized
	}
	proj, err := api.svc.GetByID(contextCtx(ctx), ctx.Param("id"))
	if err != nil {
		return err
	}
	// trainees only see the projects they are assigned to
	if actor.IsTrainee() && !proj.IsAssigned(actor.ID) {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, api.serialize(ctx, actor, proj))
}

func (api *projectApi) update(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errHttpUnauthorized
	}

	orig, err := api.svc.GetByID(contextCtx(ctx), ctx.Param("id"))
	if err != nil {
		return err
	}

	var data project.UpdateProject
	if err = ctx.Bind(&data); err != nil {
		return err
	}
	if err = data.Validate(orig); err != nil {
		return err
	}

	proj, err := api.svc.Update(contextCtx(ctx), orig.ID, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, api.serialize(ctx, actor, proj))
}

func (api *projectApi) destroy(ctx echo.Context) error {
	proj, err := api.svc.GetByID(contextCtx(ctx), ctx.Param("id"))
	if err != nil {
		return err
	}
	if err = api.svc.Delete(contextCtx(ctx), proj.ID); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *projectApi) myProgress(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errHttpUnauthorized
	}
	prog, err := api.svc.GetMyProgress(contextCtx(ctx), actor, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, api.serializeProgress(ctx, prog))
}

func (api *projectApi) updateMyProgress(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errHttpUnauthorized
	}

	var data project.ProgressUpdate
	if err = ctx.Bind(&data); err != nil {
		return err
	}
	if err = data.Validate(); err != nil {
		return err
	}

	prog, err := api.svc.UpdateMyProgress(contextCtx(ctx), actor, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, api.serializeProgress(ctx, prog))
}

func (api *projectApi) comment(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errHttpUnauthorized
	}

	var data project.CommentInput
	if err = ctx.Bind(&data); err != nil {
		return err
	}

	prog, err := api.svc.Comment(contextCtx(ctx), actor, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, api.serializeProgress(ctx, prog))
}

// serialize prepares a project for the actor's eyes: report URLs are
// resolved, and trainees only see their own progress entries. A blank actor
// ID fails closed into an empty entry list.
func (api *projectApi) serialize(ctx echo.Context, actor user.User, proj project.Project) project.Project {
	for i := range proj.ProgressEntries {
		proj.ProgressEntries[i] = api.serializeProgress(ctx, proj.ProgressEntries[i])
	}

	if actor.IsTrainee() {
		own := make([]project.Progress, 0, 1)
		if actor.ID != "" {
			for _, entry := range proj.ProgressEntries {
				if entry.TraineeID == actor.ID {
					own = append(own, entry)
				}
			}
		}
		proj.ProgressEntries = own
	}
	return proj
}

func (api *projectApi) serializeProgress(ctx echo.Context, prog project.Progress) project.Progress {
	prog.ReportURL = api.resolveReportURL(ctx, prog.Report)
	return prog
}

// resolveReportURL turns a stored report reference into an absolute URL.
// Already-absolute values pass through; relative ones are anchored on the
// request host, falling back to the configured public media base.
func (api *projectApi) resolveReportURL(ctx echo.Context, report null.String) null.String {
	if !report.Valid || report.String == "" {
		return null.String{}
	}
	raw := report.String
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return null.StringFrom(raw)
	}

	rel := strings.TrimPrefix(raw, "/")
	if ctx != nil && ctx.Request() != nil && ctx.Request().Host != "" {
		return null.StringFrom(fmt.Sprintf("%s://%s/media/%s", ctx.Scheme(), ctx.Request().Host, rel))
	}
	// PublicMediaURL is the media base itself, no extra segment
	return null.StringFrom(strings.TrimSuffix(api.conf.PublicMediaURL, "/") + "/" + rel)
}
