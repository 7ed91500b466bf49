package httpapi

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/i474232898/temperature-monitoring/internal/monitoring"
	"github.com/i474232898/temperature-monitoring/internal/selection"
)

// selectionView is the JSON form of a selection.
type selectionView struct {
	SensorIDs []string `json:"sensorIds" validate:"max=32,dive,required"`
	Range     string   `json:"range" validate:"required"`
	Raw       bool     `json:"raw"`
}

func newSelectionView(sel selection.Selection) selectionView {
	ids := sel.SensorIDs
	if ids == nil {
		ids = []string{}
	}
	return selectionView{SensorIDs: ids, Range: sel.Range.String(), Raw: sel.Raw}
}

func (v selectionView) toSelection() (selection.Selection, error) {
	d, err := time.ParseDuration(v.Range)
	if err != nil || d <= 0 {
		return selection.Selection{}, fiber.NewError(fiber.StatusBadRequest, "range must be a positive duration such as 6h")
	}
	return selection.Selection{SensorIDs: v.SensorIDs, Range: d, Raw: v.Raw}, nil
}

func (h *handlers) session(c *fiber.Ctx) (*selection.Session, error) {
	sess, err := h.Sessions.Get(c.Params("id"))
	if err != nil {
		return nil, toHTTPError(err, "failed to load session")
	}
	return sess, nil
}

func (h *handlers) createSession(c *fiber.Ctx) error {
	// Params and query values point into fasthttp's reused buffers; anything
	// kept past the request must be copied.
	sess := h.Sessions.Create(utils.CopyString(c.Query("org")))
	if sess.State.Get().Range <= 0 {
		sess.State.SetRange(h.DefaultRange)
	}
	id := sess.ID
	sess.State.Subscribe(func(sel selection.Selection) {
		log.Printf("DEBUG: session %s selection changed: %d sensors, range %s", id, len(sel.SensorIDs), sel.Range)
	})
	h.Metrics.SessionsOpen(h.Sessions.Len())

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":        sess.ID,
		"orgId":     sess.OrgID,
		"selection": newSelectionView(sess.State.Get()),
	})
}

func (h *handlers) deleteSession(c *fiber.Ctx) error {
	h.Sessions.Delete(c.Params("id"))
	h.Metrics.SessionsOpen(h.Sessions.Len())
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) getSelection(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(newSelectionView(sess.State.Get()))
}

func (h *handlers) putSelection(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}

	var view selectionView
	if err := c.BodyParser(&view); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid selection body")
	}
	if err := validate.Struct(view); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	sel, err := view.toSelection()
	if err != nil {
		return err
	}

	sess.State.Set(sel)
	return c.JSON(newSelectionView(sess.State.Get()))
}

func (h *handlers) toggleSensor(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	sess.State.Toggle(utils.CopyString(c.Params("sensor")))
	return c.JSON(newSelectionView(sess.State.Get()))
}

// sessionChart loads the chart for the session's current selection. Loading
// is explicit: changing the selection never triggers a fetch by itself.
func (h *handlers) sessionChart(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	sel := sess.State.Get()
	return h.renderChart(c, monitoring.ChartRequest{
		OrgID:     sess.OrgID,
		SensorIDs: sel.SensorIDs,
		Range:     sel.Range,
		Raw:       sel.Raw,
	})
}
