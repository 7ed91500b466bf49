package httpapi

import (
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/temperature-monitoring/internal/common"
	"github.com/i474232898/temperature-monitoring/internal/metrics"
	"github.com/i474232898/temperature-monitoring/internal/monitoring"
	"github.com/i474232898/temperature-monitoring/internal/selection"
	"github.com/i474232898/temperature-monitoring/internal/store"
)

var validate = validator.New()

// Deps are the collaborators the HTTP handlers need.
type Deps struct {
	Service      *monitoring.Service
	Sessions     *selection.Registry
	Metrics      *metrics.Recorder
	DefaultRange time.Duration
}

type handlers struct {
	Deps
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	if deps.DefaultRange <= 0 {
		deps.DefaultRange = 6 * time.Hour
	}
	h := &handlers{Deps: deps}

	v1 := app.Group("/api/v1")

	v1.Get("/sensors", h.listSensors)
	v1.Get("/readings/latest", h.latestReading)
	v1.Get("/readings/sampled", h.sampledReadings)
	v1.Get("/charts/temperature", h.temperatureChart)

	if deps.Sessions != nil {
		sessions := v1.Group("/sessions")
		sessions.Post("/", h.createSession)
		sessions.Delete("/:id", h.deleteSession)
		sessions.Get("/:id/selection", h.getSelection)
		sessions.Put("/:id/selection", h.putSelection)
		sessions.Post("/:id/selection/toggle/:sensor", h.toggleSensor)
		sessions.Get("/:id/chart", h.sessionChart)
	}
}

func (h *handlers) listSensors(c *fiber.Ctx) error {
	sensors, err := h.Service.Sensors(c.UserContext(), c.Query("org"))
	if err != nil {
		return toHTTPError(err, "failed to fetch sensors")
	}
	if sensors == nil {
		sensors = []monitoring.Sensor{}
	}
	return c.JSON(fiber.Map{"sensors": sensors})
}

func (h *handlers) latestReading(c *fiber.Ctx) error {
	q := struct {
		SensorID string `validate:"required"`
	}{SensorID: c.Query("sensor")}
	if err := validate.Struct(q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	reading, err := h.Service.Latest(c.UserContext(), q.SensorID)
	if err != nil {
		return toHTTPError(err, "failed to fetch latest reading")
	}
	return c.JSON(reading)
}

func (h *handlers) sampledReadings(c *fiber.Ctx) error {
	var req sampledQuery
	if err := req.bind(c); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	points, err := h.Service.SampleRange(c.UserContext(), monitoring.ReadingQuery{
		SensorIDs: req.SensorIDs,
		From:      req.From,
		To:        req.To,
	}, req.Interval)
	if err != nil {
		return toHTTPError(err, "failed to sample readings")
	}

	return c.JSON(fiber.Map{
		"from":            req.From,
		"to":              req.To,
		"intervalMinutes": req.Interval,
		"points":          points,
	})
}

func (h *handlers) temperatureChart(c *fiber.Ctx) error {
	var req chartQuery
	if err := req.bind(c, h.DefaultRange); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return h.renderChart(c, req.toRequest())
}

func (h *handlers) renderChart(c *fiber.Ctx, req monitoring.ChartRequest) error {
	start := time.Now()
	chart, err := h.Service.LoadChart(c.UserContext(), req)
	h.Metrics.ChartBuilt(req.Raw, len(chart.Points), time.Since(start), err)
	if err != nil {
		return toHTTPError(err, "failed to build chart")
	}
	return c.JSON(chart)
}

// sampledQuery holds query parameters for the sampled readings endpoint.
type sampledQuery struct {
	SensorIDs []string  `validate:"required,min=1,max=64,dive,required"`
	From      time.Time `validate:"required"`
	To        time.Time `validate:"required,gtefield=From"`
	Interval  int       `validate:"gt=0,lte=1440"`
}

func (q *sampledQuery) bind(c *fiber.Ctx) error {
	q.SensorIDs = common.SplitList(c.Query("sensors"))

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	var err error
	if q.From, err = parseTime(fromStr); err != nil {
		return err
	}
	if q.To, err = parseTime(toStr); err != nil {
		return err
	}

	q.Interval = 5
	if s := c.Query("interval"); s != "" {
		if q.Interval, err = strconv.Atoi(s); err != nil {
			return errors.New("interval must be a whole number of minutes")
		}
	}
	return nil
}

// chartQuery holds query parameters for the chart endpoint.
type chartQuery struct {
	OrgID     string
	SensorIDs []string      `validate:"max=32,dive,required"`
	Range     time.Duration `validate:"gt=0,lte=2160h"`
	Interval  int           `validate:"gte=0,lte=1440"`
	Raw       bool
}

func (q *chartQuery) bind(c *fiber.Ctx, defaultRange time.Duration) error {
	q.OrgID = c.Query("org")
	q.SensorIDs = common.SplitList(c.Query("sensors"))
	q.Raw = c.QueryBool("raw", false)

	q.Range = defaultRange
	if s := c.Query("range"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return errors.New("range must be a duration such as 1h or 48h")
		}
		q.Range = d
	}

	if s := c.Query("interval"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return errors.New("interval must be a whole number of minutes")
		}
		q.Interval = n
	}
	return nil
}

func (q chartQuery) toRequest() monitoring.ChartRequest {
	return monitoring.ChartRequest{
		OrgID:           q.OrgID,
		SensorIDs:       q.SensorIDs,
		Range:           q.Range,
		IntervalMinutes: q.Interval,
		Raw:             q.Raw,
	}
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}

// toHTTPError maps domain errors to HTTP errors. Anything unexpected is
// logged and reported as a 500 with msg.
func toHTTPError(err error, msg string) error {
	switch {
	case errors.Is(err, monitoring.ErrInvalidInterval),
		errors.Is(err, monitoring.ErrInvalidRange),
		errors.Is(err, monitoring.ErrInvalidWindow),
		errors.Is(err, monitoring.ErrInvalidTimestamp),
		errors.Is(err, monitoring.ErrInvalidTemperature):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "no readings for requested sensor")
	case errors.Is(err, selection.ErrSessionNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	log.Printf("ERROR: %s: %v", msg, err)
	return fiber.NewError(fiber.StatusInternalServerError, msg)
}
