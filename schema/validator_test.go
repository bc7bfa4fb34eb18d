package schema

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/freightopt/eventbus/errors"
	"github.com/freightopt/eventbus/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadedCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := NewCatalog()
	require.NoError(t, c.Load(context.Background()))
	return c
}

func event(eventType string, payload string) *events.Event {
	return &events.Event{
		Metadata: events.Metadata{EventType: eventType},
		Payload:  json.RawMessage(payload),
	}
}

func requireValidationError(t *testing.T, err error) *ValidationError {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected *ValidationError, got %T", err)
	return verr
}

func TestValidate_UnknownTypeIsPermissive(t *testing.T) {
	v := NewValidator(loadedCatalog(t))

	for _, payload := range []string{`{}`, `[1,2]`, `"x"`, `{"anything":{"goes":true}}`, `null`} {
		assert.NoError(t, v.Validate(event("NOT_A_REAL_TYPE", payload)), payload)
	}
}

func TestValidate_DriverIDRequiredString(t *testing.T) {
	v := NewValidator(loadedCatalog(t))

	assert.NoError(t, v.Validate(event("DRIVER_CREATED", `{"driver_id":"D1","name":"Ana"}`)))

	verr := requireValidationError(t, v.Validate(event("DRIVER_CREATED", `{"name":"Ana"}`)))
	assert.Equal(t, "driver_id", verr.Path)
	assert.Equal(t, "missing", verr.Actual)

	verr = requireValidationError(t, v.Validate(event("DRIVER_CREATED", `{"driver_id":42,"name":"Ana"}`)))
	assert.Equal(t, "driver_id", verr.Path)
	assert.Equal(t, "string", verr.Expected)
	assert.Equal(t, "number 42", verr.Actual)
	assert.Equal(t, "DRIVER_CREATED", verr.EventType)
	assert.Contains(t, verr.Error(), "driver_id")

	verr = requireValidationError(t, v.Validate(event("DRIVER_CREATED", `{"driver_id":null}`)))
	assert.Equal(t, "driver_id", verr.Path)
}

func TestValidate_Nullability(t *testing.T) {
	v := NewValidator(loadedCatalog(t))

	assert.NoError(t, v.Validate(event("DRIVER_CREATED", `{"driver_id":"D1","name":"Ana","license_number":null,"home_terminal":null}`)))

	verr := requireValidationError(t, v.Validate(event("LOAD_CREATED", `{"load_id":"L1","weight":500,"stops":null}`)))
	assert.Equal(t, "stops", verr.Path)
	assert.Equal(t, "null", verr.Actual)
}

func TestValidate_NestedPaths(t *testing.T) {
	v := NewValidator(loadedCatalog(t))

	ok := `{"load_id":"L1","weight":500,"stops":[
		{"sequence":1,"kind":"PICKUP","location":{"lat":41.8,"lng":-87.6}},
		{"sequence":2,"kind":"DROPOFF","location":null}]}`
	assert.NoError(t, v.Validate(event("LOAD_CREATED", ok)))

	bad := `{"load_id":"L1","weight":500,"stops":[
		{"sequence":1,"location":{"lat":41.8,"lng":-87.6}},
		{"sequence":2,"location":{"lat":"north","lng":-87.6}}]}`
	verr := requireValidationError(t, v.Validate(event("LOAD_CREATED", bad)))
	assert.Equal(t, "stops[1].location.lat", verr.Path)
	assert.Equal(t, "number", verr.Expected)

	missing := `{"load_id":"L1","weight":500,"stops":[{"sequence":1,"location":{"lng":1}}]}`
	verr = requireValidationError(t, v.Validate(event("LOAD_CREATED", missing)))
	assert.Equal(t, "stops[0].location.lat", verr.Path)
}

func TestValidate_IntegersAndEnums(t *testing.T) {
	v := NewValidator(loadedCatalog(t))

	assert.NoError(t, v.Validate(event("POINTS_AWARDED", `{"driver_id":"D1","points":10}`)))
	assert.NoError(t, v.Validate(event("POINTS_AWARDED", `{"driver_id":"D1","points":10.0}`)))

	verr := requireValidationError(t, v.Validate(event("POINTS_AWARDED", `{"driver_id":"D1","points":1.5}`)))
	assert.Equal(t, "points", verr.Path)
	assert.Equal(t, "integer", verr.Expected)

	verr = requireValidationError(t, v.Validate(event("DRIVER_STATUS_CHANGED", `{"driver_id":"D1","status":"SLEEPING"}`)))
	assert.Equal(t, "status", verr.Path)
	assert.Equal(t, `"SLEEPING"`, verr.Actual)
}

func TestValidate_ExtraFieldsAccepted(t *testing.T) {
	v := NewValidator(loadedCatalog(t))
	assert.NoError(t, v.Validate(event("LOAD_CREATED", `{"load_id":"L1","weight":500,"hazmat":true,"meta":{"x":[1]}}`)))
}

func TestValidate_PayloadShape(t *testing.T) {
	v := NewValidator(loadedCatalog(t))

	verr := requireValidationError(t, v.Validate(event("LOAD_CREATED", `["not","an","object"]`)))
	assert.Equal(t, "", verr.Path)
	assert.Equal(t, "array", verr.Actual)

	verr = requireValidationError(t, v.Validate(event("LOAD_CREATED", `{"load_id":`)))
	assert.Equal(t, "malformed json", verr.Actual)
}

func TestValidate_Disabled(t *testing.T) {
	v := NewValidator(loadedCatalog(t), WithValidation(false))
	assert.False(t, v.Enabled())
	assert.NoError(t, v.Validate(event("DRIVER_CREATED", `{"driver_id":42}`)))
}

func TestValidate_UnloadedCatalogIsPermissive(t *testing.T) {
	v := NewValidator(NewCatalog())
	assert.NoError(t, v.Validate(event("DRIVER_CREATED", `{}`)))
}
