package monitoring

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildSeriesWindowBoundsInclusive(t *testing.T) {
	window := TimeWindow{Start: at(10000), End: at(20000)}
	readings := []Reading{
		{SensorID: "a", ObservedAt: at(9999), Temperature: temp(1)},
		{SensorID: "a", ObservedAt: at(10000), Temperature: temp(2)},
		{SensorID: "a", ObservedAt: at(20000), Temperature: temp(3)},
		{SensorID: "a", ObservedAt: at(20001), Temperature: temp(4)},
	}

	chart, err := BuildSeries(readings, nil, []string{"a"}, window, nil)
	require.NoError(t, err)
	require.Len(t, chart.Points, 2)
	require.Equal(t, at(10000), chart.Points[0].Time)
	require.Equal(t, 2.0, chart.Points[0].Values[SeriesKey("a")])
	require.Equal(t, at(20000), chart.Points[1].Time)
	require.Equal(t, 3.0, chart.Points[1].Values[SeriesKey("a")])
}

func TestBuildSeriesSparsePoints(t *testing.T) {
	window := TimeWindow{Start: at(0), End: at(100000)}
	readings := []Reading{
		{SensorID: "b", ObservedAt: at(2000), Temperature: temp(7)},
		{SensorID: "a", ObservedAt: at(1000), Temperature: temp(5)},
	}

	chart, err := BuildSeries(readings, nil, []string{"a", "b"}, window, nil)
	require.NoError(t, err)
	require.Len(t, chart.Points, 2)
	require.Equal(t, map[string]float64{SeriesKey("a"): 5}, chart.Points[0].Values)
	require.Equal(t, map[string]float64{SeriesKey("b"): 7}, chart.Points[1].Values)
}

func TestBuildSeriesMergesSameTimestamp(t *testing.T) {
	window := TimeWindow{Start: at(0), End: at(100000)}
	readings := []Reading{
		{SensorID: "a", ObservedAt: at(5000), Temperature: temp(1)},
		{SensorID: "b", ObservedAt: at(5000), Temperature: temp(2)},
		{SensorID: "a", ObservedAt: at(3000), Temperature: temp(0)},
		{SensorID: "a", ObservedAt: at(5000), Temperature: temp(9)},
	}

	chart, err := BuildSeries(readings, nil, []string{"a", "b"}, window, nil)
	require.NoError(t, err)
	require.Len(t, chart.Points, 2)
	require.True(t, chart.Points[0].Time.Before(chart.Points[1].Time))
	// Later reading of the same sensor at the same instant wins.
	require.Equal(t, map[string]float64{SeriesKey("a"): 9, SeriesKey("b"): 2}, chart.Points[1].Values)
}

func TestBuildSeriesFiltersSelectionAndNulls(t *testing.T) {
	window := TimeWindow{Start: at(0), End: at(100000)}
	readings := []Reading{
		{SensorID: "a", ObservedAt: at(1000), Temperature: nil},
		{SensorID: "c", ObservedAt: at(1000), Temperature: temp(3)},
		{SensorID: "b", ObservedAt: at(1000), Temperature: temp(2)},
	}

	chart, err := BuildSeries(readings, nil, []string{"a", "b"}, window, nil)
	require.NoError(t, err)
	require.Len(t, chart.Points, 1)
	require.Equal(t, map[string]float64{SeriesKey("b"): 2}, chart.Points[0].Values)

	require.Len(t, chart.Series, 2)
	for _, s := range chart.Series {
		require.NotEqual(t, "c", s.SensorID)
	}
}

func TestBuildSeriesEmptyInputs(t *testing.T) {
	window := TimeWindow{Start: at(0), End: at(1000)}

	chart, err := BuildSeries(nil, nil, []string{"a"}, window, nil)
	require.NoError(t, err)
	require.Empty(t, chart.Points)
	require.Len(t, chart.Series, 1)

	chart, err = BuildSeries([]Reading{{SensorID: "a", ObservedAt: at(10), Temperature: temp(1)}}, nil, nil, window, nil)
	require.NoError(t, err)
	require.Empty(t, chart.Points)
	require.Empty(t, chart.Series)
}

func TestBuildSeriesRejectsInvertedWindow(t *testing.T) {
	_, err := BuildSeries(nil, nil, []string{"a"}, TimeWindow{Start: at(10), End: at(0)}, nil)
	require.ErrorIs(t, err, ErrInvalidWindow)
}

func TestBuildSeriesColorsFollowSelectionOrder(t *testing.T) {
	window := TimeWindow{Start: at(0), End: at(1000)}
	palette := Palette{"#000001", "#000002", "#000003"}

	colorOf := func(chart ChartData, id string) string {
		for _, s := range chart.Series {
			if s.SensorID == id {
				return s.Color
			}
		}
		t.Fatalf("no series for %s", id)
		return ""
	}

	ab1, err := BuildSeries(nil, nil, []string{"A", "B"}, window, palette)
	require.NoError(t, err)
	ab2, err := BuildSeries(nil, nil, []string{"A", "B"}, window, palette)
	require.NoError(t, err)
	ba, err := BuildSeries(nil, nil, []string{"B", "A"}, window, palette)
	require.NoError(t, err)

	require.Equal(t, ab1, ab2)
	require.Equal(t, "#000001", colorOf(ab1, "A"))
	require.Equal(t, "#000002", colorOf(ba, "A"))
	require.NotEqual(t, colorOf(ab1, "A"), colorOf(ba, "A"))

	// Palette cycles once exhausted.
	many, err := BuildSeries(nil, nil, []string{"s1", "s2", "s3", "s4"}, window, palette)
	require.NoError(t, err)
	require.Equal(t, "#000001", many.Series[3].Color)
}

func TestBuildSeriesNamesAndDedupe(t *testing.T) {
	walkIn := "Walk-in cooler"
	sensors := []Sensor{
		{ID: "a", Name: "Probe 1", LocationName: &walkIn},
		{ID: "b", Name: "Probe 2"},
	}
	window := TimeWindow{Start: at(0), End: at(1000)}

	chart, err := BuildSeries(nil, sensors, []string{"a", "b", "a", "zz"}, window, nil)
	require.NoError(t, err)
	require.Equal(t, []LineSeries{
		{Key: "sensor_a", SensorID: "a", Name: "Probe 1 (Walk-in cooler)", Color: DefaultPalette[0]},
		{Key: "sensor_b", SensorID: "b", Name: "Probe 2", Color: DefaultPalette[1]},
		{Key: "sensor_zz", SensorID: "zz", Name: "zz", Color: DefaultPalette[2]},
	}, chart.Series)
}

func TestChartDataPointJSON(t *testing.T) {
	p := ChartDataPoint{Time: at(1700000000000), Values: map[string]float64{"sensor_a": 3.5}}
	b, err := json.Marshal(p)
	require.NoError(t, err)
	require.JSONEq(t, `{"time":1700000000000,"sensor_a":3.5}`, string(b))
}

func TestWindowEndingAt(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w := WindowEndingAt(now, 6*time.Hour)
	require.Equal(t, now.Add(-6*time.Hour), w.Start)
	require.Equal(t, now, w.End)
	require.True(t, w.Contains(w.Start))
	require.True(t, w.Contains(w.End))
	require.False(t, w.Contains(w.End.Add(time.Millisecond)))
}

func TestNewPalette(t *testing.T) {
	p, err := NewPalette([]string{"#ABCDEF", "#123456"})
	require.NoError(t, err)
	require.Equal(t, "#123456", p.ColorAt(3))

	_, err = NewPalette(nil)
	require.ErrorIs(t, err, ErrEmptyPalette)

	_, err = NewPalette([]string{"red"})
	require.ErrorIs(t, err, ErrInvalidColor)
}
