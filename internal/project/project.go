// Package project transforms geodetic WGS84 coordinates into a planar
// working CRS. Supported targets are registered by identifier; surveys
// that cross the antimeridian are unwrapped before projection, and
// points outside a CRS's valid domain are flagged invalid rather than
// silently clipped.
package project

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tritonminingco/open-ocean-mapper/internal/monitoring"
	"github.com/tritonminingco/open-ocean-mapper/internal/sounding"
)

// WGS84 ellipsoid.
const (
	wgs84A  = 6378137.0
	wgs84F  = 1 / 298.257223563
	utmK0   = 0.9996
	utmEast = 500000.0
)

// ProjectionError reports a point outside the target CRS's valid
// domain. Per-record and non-fatal: the record is flagged, not dropped.
type ProjectionError struct {
	CRS      string
	Lat, Lon float64
	Msg      string
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("projection to %s failed for (%.6f, %.6f): %s", e.CRS, e.Lat, e.Lon, e.Msg)
}

// CRS projects a geodetic coordinate to planar metres.
type CRS interface {
	ID() string
	// Forward projects in double precision. lon has already been
	// unwrapped by the caller when the survey crosses the antimeridian.
	Forward(lat, lon float64) (x, y float64, err error)
}

// Result summarises one reprojection pass.
type Result struct {
	CRS    string
	Failed int // records flagged with a projection error
}

// Reproject transforms every valid record to the target CRS in place.
// target accepts "epsg:3857", "epsg:326NN"/"epsg:327NN" (UTM) or
// "auto-utm" which picks the zone from the dataset centroid.
func Reproject(ds *sounding.Dataset, target string) (*Result, error) {
	// Unwrap longitudes first so both zone selection and projection see
	// a contiguous survey.
	unwrapped := unwrapAntimeridian(ds)

	crs, err := Resolve(target, ds)
	if err != nil {
		return nil, err
	}

	res := &Result{CRS: crs.ID()}
	for i := range ds.Records {
		r := &ds.Records[i]
		if r.Invalid {
			continue
		}
		lon := r.Lon
		if unwrapped && lon < 0 {
			lon += 360
		}
		x, y, perr := crs.Forward(r.Lat, lon)
		if perr != nil {
			r.MarkInvalid(perr.Error())
			res.Failed++
			continue
		}
		r.X, r.Y = x, y
		r.Projected = true
	}
	ds.Meta.CRS = crs.ID()
	monitoring.Logf("project: %d records to %s (%d outside domain)", len(ds.Records), crs.ID(), res.Failed)
	return res, nil
}

// Resolve maps a CRS identifier to an implementation. auto-utm needs
// the dataset to compute its centroid zone.
func Resolve(target string, ds *sounding.Dataset) (CRS, error) {
	t := strings.ToLower(strings.TrimSpace(target))
	switch {
	case t == "" || t == "auto-utm":
		lat, lon, ok := centroid(ds)
		if !ok {
			return nil, fmt.Errorf("project: cannot pick UTM zone, no valid records")
		}
		return utmForCentroid(lat, lon), nil
	case t == "epsg:3857":
		return webMercator{}, nil
	case strings.HasPrefix(t, "epsg:326"), strings.HasPrefix(t, "epsg:327"):
		code := strings.TrimPrefix(t, "epsg:")
		n, err := strconv.Atoi(code)
		if err != nil {
			return nil, fmt.Errorf("project: bad CRS %q", target)
		}
		zone := n % 100
		if zone < 1 || zone > 60 {
			return nil, fmt.Errorf("project: UTM zone %d out of range", zone)
		}
		return utm{zone: zone, south: n/100 == 327}, nil
	default:
		return nil, fmt.Errorf("project: unsupported CRS %q", target)
	}
}

// unwrapAntimeridian reports whether the survey straddles ±180 and
// therefore needs its western hemisphere longitudes shifted by +360.
// Heuristic: a raw span over 180° that collapses when unwrapped.
func unwrapAntimeridian(ds *sounding.Dataset) bool {
	minLon, maxLon := math.MaxFloat64, -math.MaxFloat64
	any := false
	for i := range ds.Records {
		if ds.Records[i].Invalid {
			continue
		}
		any = true
		minLon = math.Min(minLon, ds.Records[i].Lon)
		maxLon = math.Max(maxLon, ds.Records[i].Lon)
	}
	if !any || maxLon-minLon <= 180 {
		return false
	}
	uMin, uMax := math.MaxFloat64, -math.MaxFloat64
	for i := range ds.Records {
		if ds.Records[i].Invalid {
			continue
		}
		lon := ds.Records[i].Lon
		if lon < 0 {
			lon += 360
		}
		uMin = math.Min(uMin, lon)
		uMax = math.Max(uMax, lon)
	}
	return uMax-uMin < maxLon-minLon
}

func centroid(ds *sounding.Dataset) (lat, lon float64, ok bool) {
	unwrapped := unwrapAntimeridian(ds)
	var sumLat, sumLon float64
	n := 0
	for i := range ds.Records {
		if ds.Records[i].Invalid {
			continue
		}
		l := ds.Records[i].Lon
		if unwrapped && l < 0 {
			l += 360
		}
		sumLat += ds.Records[i].Lat
		sumLon += l
		n++
	}
	if n == 0 {
		return 0, 0, false
	}
	lat, lon = sumLat/float64(n), sumLon/float64(n)
	if lon > 180 {
		lon -= 360
	}
	return lat, lon, true
}

func utmForCentroid(lat, lon float64) utm {
	zone := int(math.Floor((lon+180)/6)) + 1
	if zone < 1 {
		zone = 1
	}
	if zone > 60 {
		zone = 60
	}
	return utm{zone: zone, south: lat < 0}
}

// webMercator is EPSG:3857. Valid domain |lat| <= 85.06; the poles map
// to infinity and are rejected, not clamped.
type webMercator struct{}

func (webMercator) ID() string { return "epsg:3857" }

func (webMercator) Forward(lat, lon float64) (float64, float64, error) {
	const maxLat = 85.06
	if math.Abs(lat) > maxLat {
		return 0, 0, &ProjectionError{CRS: "epsg:3857", Lat: lat, Lon: lon,
			Msg: fmt.Sprintf("latitude beyond ±%.2f", maxLat)}
	}
	x := wgs84A * radians(lon)
	y := wgs84A * math.Log(math.Tan(math.Pi/4+radians(lat)/2))
	return x, y, nil
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// utm implements the transverse mercator series (Snyder) for one UTM
// zone on the WGS84 ellipsoid.
type utm struct {
	zone  int
	south bool
}

func (u utm) ID() string {
	if u.south {
		return fmt.Sprintf("epsg:327%02d", u.zone)
	}
	return fmt.Sprintf("epsg:326%02d", u.zone)
}

func (u utm) Forward(lat, lon float64) (float64, float64, error) {
	// UTM is defined from 80°S to 84°N.
	if lat > 84 || lat < -80 {
		return 0, 0, &ProjectionError{CRS: u.ID(), Lat: lat, Lon: lon,
			Msg: "latitude outside UTM domain [-80, 84]"}
	}
	lon0 := float64((u.zone-1)*6 - 180 + 3)
	dLon := lon - lon0
	// Normalise into [-180, 180] so unwrapped longitudes still project.
	for dLon > 180 {
		dLon -= 360
	}
	for dLon < -180 {
		dLon += 360
	}
	if math.Abs(dLon) > 30 {
		return 0, 0, &ProjectionError{CRS: u.ID(), Lat: lat, Lon: lon,
			Msg: fmt.Sprintf("longitude %.2f° from zone %d central meridian", dLon, u.zone)}
	}

	phi := radians(lat)
	lam := radians(dLon)

	e2 := wgs84F * (2 - wgs84F)
	ep2 := e2 / (1 - e2)
	sinP, cosP := math.Sin(phi), math.Cos(phi)
	tanP := sinP / cosP

	n := wgs84A / math.Sqrt(1-e2*sinP*sinP)
	t := tanP * tanP
	c := ep2 * cosP * cosP
	a := cosP * lam

	e4, e6 := e2*e2, e2*e2*e2
	m := wgs84A * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))

	x := utmK0*n*(a+(1-t+c)*a*a*a/6+
		(5-18*t+t*t+72*c-58*ep2)*math.Pow(a, 5)/120) + utmEast
	y := utmK0 * (m + n*tanP*(a*a/2+(5-t+9*c+4*c*c)*math.Pow(a, 4)/24+
		(61-58*t+t*t+600*c-330*ep2)*math.Pow(a, 6)/720))
	if u.south {
		y += 10000000
	}
	return x, y, nil
}
