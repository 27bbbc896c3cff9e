package server

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/99designs/gqlgen/graphql"
	"github.com/raphaelgruber/sortify/internal/chat"
	"github.com/raphaelgruber/sortify/internal/events"
	"github.com/raphaelgruber/sortify/internal/metrics"
	"github.com/raphaelgruber/sortify/internal/models"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

//go:embed schema.graphqls
var schemaSDL string

var parsedSchema = gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphqls", Input: schemaSDL})

// Error codes set in the "code" extension of every resolver error.
const (
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeNotFound        = "NOT_FOUND"
	CodeBadUserInput    = "BAD_USER_INPUT"
	CodeInternal        = "INTERNAL_SERVER_ERROR"
)

var errIntrospectionDisabled = errors.New("introspection is disabled")

// executableSchema runs validated operations against a Resolver. gqlgen
// has already parsed and validated the document against parsedSchema, so
// every field and argument seen here exists with the declared type.
type executableSchema struct {
	// Complexity is only consulted by the complexity limit extension,
	// which the server does not install.
	graphql.ExecutableSchema

	resolver *Resolver
}

func (es *executableSchema) Schema() *ast.Schema {
	return parsedSchema
}

func (es *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	opCtx := graphql.GetOperationContext(ctx)

	switch opCtx.Operation.Operation {
	case ast.Query:
		return oneShot(func(ctx context.Context) *graphql.Response {
			return es.execRoot(ctx, opCtx, "Query", es.query)
		})
	case ast.Mutation:
		return oneShot(func(ctx context.Context) *graphql.Response {
			return es.execRoot(ctx, opCtx, "Mutation", es.mutation)
		})
	case ast.Subscription:
		return es.subscribe(ctx, opCtx)
	}
	return oneShot(func(context.Context) *graphql.Response {
		return &graphql.Response{Errors: gqlerror.List{gqlerror.Errorf("unsupported operation %q", opCtx.Operation.Operation)}}
	})
}

type rootResolver func(ctx context.Context, opCtx *graphql.OperationContext, f graphql.CollectedField) (any, error)

// execRoot resolves the root fields in order. Mutations run one after the
// other, and the first failure ends the operation with a null data field.
func (es *executableSchema) execRoot(ctx context.Context, opCtx *graphql.OperationContext, typeName string, resolve rootResolver) *graphql.Response {
	data := &object{}
	for _, f := range graphql.CollectFields(opCtx, opCtx.Operation.SelectionSet, []string{typeName}) {
		if f.Name == "__typename" {
			data.set(f.Alias, typeName)
			continue
		}
		v, err := resolve(ctx, opCtx, f)
		if err != nil {
			return &graphql.Response{Errors: gqlerror.List{es.presentError(f, err)}}
		}
		data.set(f.Alias, v)
	}
	return dataResponse(data)
}

func (es *executableSchema) query(ctx context.Context, opCtx *graphql.OperationContext, f graphql.CollectedField) (any, error) {
	args := f.ArgumentMap(opCtx.Variables)

	switch f.Name {
	case "sessions":
		sessions, err := es.resolver.Sessions(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]*object, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, sessionObject(opCtx, f.Selections, s))
		}
		return out, nil

	case "messages":
		msgs, err := es.resolver.Messages(ctx, stringArg(args, "sessionId"))
		if err != nil {
			return nil, err
		}
		out := make([]*object, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, messageObject(opCtx, f.Selections, m))
		}
		return out, nil

	case "stats":
		return statsObject(opCtx, f.Selections, es.resolver.Stats()), nil

	case "__schema", "__type":
		return nil, errIntrospectionDisabled
	}
	return nil, fmt.Errorf("no resolver for Query.%s", f.Name)
}

func (es *executableSchema) mutation(ctx context.Context, opCtx *graphql.OperationContext, f graphql.CollectedField) (any, error) {
	args := f.ArgumentMap(opCtx.Variables)

	switch f.Name {
	case "createSession":
		sess, err := es.resolver.CreateSession(ctx, stringArg(args, "title"))
		if err != nil {
			return nil, err
		}
		return sessionObject(opCtx, f.Selections, sess), nil

	case "deleteSession":
		if err := es.resolver.DeleteSession(ctx, stringArg(args, "id")); err != nil {
			return nil, err
		}
		return true, nil

	case "appendMessage":
		err := es.resolver.AppendMessage(ctx, stringArg(args, "sessionId"), stringArg(args, "role"), stringArg(args, "content"))
		if err != nil {
			return nil, err
		}
		return true, nil
	}
	return nil, fmt.Errorf("no resolver for Mutation.%s", f.Name)
}

// subscribe starts the single subscription field and returns a handler
// that yields one response per event, and nil once the stream ends.
func (es *executableSchema) subscribe(ctx context.Context, opCtx *graphql.OperationContext) graphql.ResponseHandler {
	fields := graphql.CollectFields(opCtx, opCtx.Operation.SelectionSet, []string{"Subscription"})
	if len(fields) != 1 || fields[0].Name != "sessionEvents" {
		return oneShot(func(context.Context) *graphql.Response {
			return &graphql.Response{Errors: gqlerror.List{gqlerror.Errorf("subscribe to exactly one of: sessionEvents")}}
		})
	}
	f := fields[0]

	stream, err := es.resolver.SessionEvents(ctx)
	if err != nil {
		return oneShot(func(context.Context) *graphql.Response {
			return &graphql.Response{Errors: gqlerror.List{es.presentError(f, err)}}
		})
	}

	return func(ctx context.Context) *graphql.Response {
		select {
		case ev, ok := <-stream:
			if !ok {
				return nil
			}
			data := &object{}
			data.set(f.Alias, eventObject(opCtx, f.Selections, ev))
			return dataResponse(data)
		case <-ctx.Done():
			return nil
		}
	}
}

// presentError turns a resolver error into a GraphQL error with a code.
// Unexpected errors are logged and their detail is not sent to the client.
func (es *executableSchema) presentError(f graphql.CollectedField, err error) *gqlerror.Error {
	gqlErr := &gqlerror.Error{
		Message:    err.Error(),
		Path:       ast.Path{ast.PathName(f.Alias)},
		Extensions: map[string]any{},
	}

	var verr *chat.ValidationError
	switch {
	case errors.Is(err, chat.ErrAuthRequired):
		gqlErr.Extensions["code"] = CodeUnauthenticated
	case errors.Is(err, chat.ErrSessionNotFound):
		gqlErr.Extensions["code"] = CodeNotFound
	case errors.Is(err, errIntrospectionDisabled):
		gqlErr.Extensions["code"] = CodeBadUserInput
	case errors.As(err, &verr):
		gqlErr.Message = verr.Reason
		gqlErr.Extensions["code"] = CodeBadUserInput
		gqlErr.Extensions["field"] = verr.Field
	default:
		es.resolver.logger.Error("gateway call failed", "field", f.Name, "error", err)
		gqlErr.Message = "internal error"
		gqlErr.Extensions["code"] = CodeInternal
	}
	return gqlErr
}

func oneShot(fn func(ctx context.Context) *graphql.Response) graphql.ResponseHandler {
	var done bool
	return func(ctx context.Context) *graphql.Response {
		if done {
			return nil
		}
		done = true
		return fn(ctx)
	}
}

func dataResponse(data *object) *graphql.Response {
	b, err := json.Marshal(data)
	if err != nil {
		return &graphql.Response{Errors: gqlerror.List{gqlerror.Errorf("encode response: %v", err)}}
	}
	return &graphql.Response{Data: b}
}

func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// object is a JSON object that keeps its keys in selection order.
type object struct {
	keys   []string
	values []any
}

func (o *object) set(key string, v any) {
	o.keys = append(o.keys, key)
	o.values = append(o.values, v)
}

func (o *object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(o.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// project builds the object for one value of typeName. field returns the
// value of a named field given that field's own selection set.
func project(opCtx *graphql.OperationContext, sel ast.SelectionSet, typeName string, field func(name string, sel ast.SelectionSet) any) *object {
	obj := &object{}
	for _, f := range graphql.CollectFields(opCtx, sel, []string{typeName}) {
		if f.Name == "__typename" {
			obj.set(f.Alias, typeName)
			continue
		}
		obj.set(f.Alias, field(f.Name, f.Selections))
	}
	return obj
}

func sessionObject(opCtx *graphql.OperationContext, sel ast.SelectionSet, s models.Session) *object {
	return project(opCtx, sel, "Session", func(name string, _ ast.SelectionSet) any {
		switch name {
		case "id":
			return s.ID
		case "ownerId":
			return s.OwnerID
		case "title":
			return s.Title
		case "createdAt":
			return s.CreatedAt
		case "updatedAt":
			return s.UpdatedAt
		}
		return nil
	})
}

func messageObject(opCtx *graphql.OperationContext, sel ast.SelectionSet, m models.Message) *object {
	return project(opCtx, sel, "Message", func(name string, _ ast.SelectionSet) any {
		switch name {
		case "id":
			return m.ID
		case "sessionId":
			return m.SessionID
		case "role":
			return strings.ToUpper(string(m.Role))
		case "content":
			return m.Content
		case "createdAt":
			return m.CreatedAt
		}
		return nil
	})
}

func eventObject(opCtx *graphql.OperationContext, sel ast.SelectionSet, ev events.SessionEvent) *object {
	return project(opCtx, sel, "SessionEvent", func(name string, sub ast.SelectionSet) any {
		switch name {
		case "type":
			return string(ev.Type)
		case "sessionId":
			return ev.SessionID
		case "session":
			if ev.Session == nil {
				return nil
			}
			return sessionObject(opCtx, sub, *ev.Session)
		case "at":
			return ev.At
		}
		return nil
	})
}

func statsObject(opCtx *graphql.OperationContext, sel ast.SelectionSet, snap metrics.Snapshot) *object {
	names := make([]string, 0, len(snap.Operations))
	for name := range snap.Operations {
		names = append(names, name)
	}
	slices.Sort(names)

	return project(opCtx, sel, "ServerStats", func(name string, sub ast.SelectionSet) any {
		switch name {
		case "uptimeSeconds":
			return snap.UptimeSeconds
		case "operations":
			out := make([]*object, 0, len(names))
			for _, op := range names {
				out = append(out, operationObject(opCtx, sub, op, snap.Operations[op]))
			}
			return out
		}
		return nil
	})
}

func operationObject(opCtx *graphql.OperationContext, sel ast.SelectionSet, op string, s metrics.OperationSnapshot) *object {
	return project(opCtx, sel, "OperationStats", func(name string, _ ast.SelectionSet) any {
		switch name {
		case "name":
			return op
		case "count":
			return s.Count
		case "errors":
			return s.Errors
		case "totalTimeMs":
			return s.TotalTimeMs
		case "avgTimeMs":
			return s.AvgTimeMs
		case "minTimeMs":
			return s.MinTimeMs
		case "maxTimeMs":
			return s.MaxTimeMs
		}
		return nil
	})
}
