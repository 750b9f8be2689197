package http

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/twpayne/go-kml"
	"github.com/xuri/excelize/v2"

	gfapp "locshare-cloud/internal/geofence/application"
	geofence "locshare-cloud/internal/geofence/domain"
)

// circleSegments is the vertex count used to draw circles in KML.
const circleSegments = 36

// BuildAnalyticsPDF renders a one page visit report for a geofence.
func BuildAnalyticsPDF(g geofence.Geofence, snapshot gfapp.Snapshot) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Geofence Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Place: %s", g.Name))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("ID: %s", g.ID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Shape: %s", describeShape(g.Shape)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Priority: %s", g.Priority))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Current Status: %s", snapshot.Status))
	pdf.Ln(5)
	if !g.ExpiresAt.IsZero() {
		pdf.Cell(0, 6, fmt.Sprintf("Expires: %s", g.ExpiresAt.Format(time.RFC3339)))
		pdf.Ln(5)
	}

	a := snapshot.Analytics
	pdf.Ln(4)
	pdf.Cell(0, 6, fmt.Sprintf("Triggers: %d (enter %d, exit %d, dwell %d)", a.TotalTriggers, a.EnterCount, a.ExitCount, a.DwellCount))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Completed Visits: %d", a.CompletedVisits))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total Dwell: %s", a.TotalDwell.Round(time.Second)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Average Dwell: %s", a.AverageDwell.Round(time.Second)))
	pdf.Ln(8)

	// Recent events table
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(50, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Event", "1", 0, "C", false, 0, "")
	pdf.CellFormat(60, 6, "Location", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Accuracy", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, evt := range a.RecentEvents {
		pdf.CellFormat(50, 6, evt.OccurredAt.UTC().Format(time.RFC3339), "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, string(evt.Type), "1", 0, "C", false, 0, "")
		pdf.CellFormat(60, 6, fmt.Sprintf("%.6f,%.6f", evt.Location.Latitude, evt.Location.Longitude), "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.1f", evt.Accuracy), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAnalyticsXLSX renders the summary and recent events of a geofence.
func BuildAnalyticsXLSX(g geofence.Geofence, snapshot gfapp.Snapshot) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	eventsSheet := "events"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(eventsSheet)

	a := snapshot.Analytics
	summary := [][2]any{
		{"Place", g.Name},
		{"ID", g.ID},
		{"Shape", describeShape(g.Shape)},
		{"Priority", string(g.Priority)},
		{"Current Status", string(snapshot.Status)},
		{"Total Triggers", a.TotalTriggers},
		{"Enter Count", a.EnterCount},
		{"Exit Count", a.ExitCount},
		{"Dwell Count", a.DwellCount},
		{"Completed Visits", a.CompletedVisits},
		{"Total Dwell (s)", int64(a.TotalDwell / time.Second)},
		{"Average Dwell (s)", int64(a.AverageDwell / time.Second)},
	}
	_ = f.SetCellValue(summarySheet, "A1", "Geofence Report")
	for i, row := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+3), row[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+3), row[1])
	}

	_ = f.SetCellValue(eventsSheet, "A1", "Time")
	_ = f.SetCellValue(eventsSheet, "B1", "Event")
	_ = f.SetCellValue(eventsSheet, "C1", "Latitude")
	_ = f.SetCellValue(eventsSheet, "D1", "Longitude")
	_ = f.SetCellValue(eventsSheet, "E1", "Accuracy")
	_ = f.SetCellValue(eventsSheet, "F1", "Dwell (s)")
	for i, evt := range a.RecentEvents {
		row := i + 2
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("A%d", row), evt.OccurredAt.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("B%d", row), string(evt.Type))
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("C%d", row), evt.Location.Latitude)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("D%d", row), evt.Location.Longitude)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("E%d", row), evt.Accuracy)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("F%d", row), evt.Metadata[geofence.MetaDwellSeconds])
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildGeofencesKML renders every geofence as a placemark. Circles are drawn
// as polygons with a center point.
func BuildGeofencesKML(list []geofence.Geofence) ([]byte, error) {
	placemarks := make([]kml.Element, 0, len(list))
	for _, g := range list {
		var ring []kml.Coordinate
		switch g.Shape.Kind {
		case geofence.ShapeCircle:
			ring = circleRing(g.Shape.Center, g.Shape.RadiusMeters)
		default:
			ring = make([]kml.Coordinate, 0, len(g.Shape.Vertices)+1)
			for _, v := range g.Shape.Vertices {
				ring = append(ring, kml.Coordinate{Lon: v.Longitude, Lat: v.Latitude})
			}
			if len(ring) > 0 {
				ring = append(ring, ring[0])
			}
		}
		children := []kml.Element{
			kml.Name(g.Name),
			kml.Description(fmt.Sprintf("id=%s priority=%s active=%t", g.ID, g.Priority, g.Active)),
		}
		polygon := kml.Polygon(kml.OuterBoundaryIs(kml.LinearRing(kml.Coordinates(ring...))))
		if g.Shape.Kind == geofence.ShapeCircle {
			center := kml.Point(kml.Coordinates(kml.Coordinate{Lon: g.Shape.Center.Longitude, Lat: g.Shape.Center.Latitude}))
			children = append(children, kml.MultiGeometry(center, polygon))
		} else {
			children = append(children, polygon)
		}
		placemarks = append(placemarks, kml.Placemark(children...))
	}

	doc := kml.KML(kml.Document(append([]kml.Element{kml.Name("Geofences")}, placemarks...)...))
	var buf bytes.Buffer
	if err := doc.WriteIndent(&buf, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// circleRing approximates a circle with a closed ring using the same
// meters-per-degree factor as the polygon area computation.
func circleRing(center geofence.Point, radiusMeters float64) []kml.Coordinate {
	const metersPerDegree = 111320.0
	latRad := center.Latitude * math.Pi / 180
	lonScale := metersPerDegree * math.Cos(latRad)
	if lonScale < 1e-6 {
		lonScale = 1e-6
	}
	ring := make([]kml.Coordinate, 0, circleSegments+1)
	for i := 0; i < circleSegments; i++ {
		theta := 2 * math.Pi * float64(i) / circleSegments
		ring = append(ring, kml.Coordinate{
			Lat: center.Latitude + radiusMeters*math.Cos(theta)/metersPerDegree,
			Lon: center.Longitude + radiusMeters*math.Sin(theta)/lonScale,
		})
	}
	return append(ring, ring[0])
}

func describeShape(s geofence.Shape) string {
	switch s.Kind {
	case geofence.ShapeCircle:
		return fmt.Sprintf("circle r=%.0fm at %.6f,%.6f", s.RadiusMeters, s.Center.Latitude, s.Center.Longitude)
	default:
		return fmt.Sprintf("polygon with %d vertices", len(s.Vertices))
	}
}

func exportFilename(id, format string) string {
	return "geofence-" + id + "." + format
}
