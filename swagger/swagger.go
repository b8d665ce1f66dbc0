package swagger

//go:generate swag init --generalInfo swagger.go --output docs --dir .,../internal/httpapi,../api --parseInternal --generatedTime=false
//go:generate go run ./internal/swaggerhtml --spec docs/swagger.json --out docs/swagger.html

// @title           roomd API
// @version         0.0
// @description     roomd serves room search, reservation and cancellation over HTTP. Reservations never oversell: contending requests for the same nights are serialized by row holds on the per-day availability counters.
// @license.name    MIT
// @license.url     https://opensource.org/license/mit/
// @BasePath        /
// @schemes         http https
// @accept          json
// @produce         json
// @tag.name        booking
// @tag.description Reservation, cancellation and booking history.
// @tag.name        room
// @tag.description Room catalogue and availability search.
// @tag.name        system
// @tag.description Service health checks.

// Package swagger provides go:generate hooks for producing OpenAPI assets.
type Package struct{}
