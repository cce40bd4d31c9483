// Command mockfeed serves a synthetic incident listing in the same HTML layout
// as the municipal page, for local development of feedsync.
//
// Incidents appear at a steady cadence, stay open for a while and then close,
// so the refresh interval moves through its tiers over time.
//
// Usage:
//
//	go run ./cmd/mockfeed --addr :8081 --every 3m --open-for 12m
package main

import (
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/incident-feed-sync/internal/adapter/feed"
)

type options struct {
	Addr     string        `long:"addr" default:":8081" description:"listen address"`
	Path     string        `long:"path" default:"/incidentes" description:"listing path"`
	Every    time.Duration `long:"every" default:"3m" description:"interval between new incidents"`
	OpenFor  time.Duration `long:"open-for" default:"12m" description:"how long an incident stays open"`
	Span     time.Duration `long:"span" default:"90m" description:"how far back the listing goes"`
	Timezone string        `long:"timezone" default:"America/Argentina/Buenos_Aires" description:"zone the timestamps are printed in"`
	Drift    bool          `long:"drift" description:"serve a layout without the incident table"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	loc, err := time.LoadLocation(opts.Timezone)
	if err != nil {
		slog.Error("invalid timezone", "error", err)
		os.Exit(1)
	}

	l := &listing{
		clock:   clockwork.NewRealClock(),
		every:   opts.Every,
		openFor: opts.OpenFor,
		span:    opts.Span,
		loc:     loc,
		drift:   opts.Drift,
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+opts.Path, l)

	slog.Info("mock feed listening", "addr", opts.Addr, "path", opts.Path)
	srv := &http.Server{Addr: opts.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("mock feed stopped", "error", err)
		os.Exit(1)
	}
}

type incidentTemplate struct {
	typ         string
	description string
	address     string
}

var incidentTemplates = []incidentTemplate{
	{"ROBO A TRANSEÚNTE", "Sustracción de celular", "SAN MARTIN 1200 (ESQ. CORDOBA)"},
	{"ACCIDENTE DE TRÁNSITO", "Choque entre auto y moto", "BV. OROÑO Y 27 DE FEBRERO"},
	{"PERSONA SOSPECHOSA", "Merodea autos estacionados", "PELLEGRINI/MORENO LPR 12"},
	{"RUIDOS MOLESTOS", "Fiesta en departamento", "CORRIENTES 900 1º PISO"},
	{"INCENDIO", "Quema de pastizales", "AV. CIRCUNVALACION 25 DE MAYO 3500"},
	{"RIÑA", "Pelea a la salida de un bar", "PJE. DE LA CULTURA 150"},
	{"CABLES CAIDOS", "Cable de tensión sobre la vereda", "MITRE 2200 ESQ. CERRITO"},
	{"ANIMAL SUELTO", "Caballo en la calzada", "AV. FRANCIA Y RIOJA"},
	{"EMERGENCIA MEDICA", "Persona descompensada", "PLAZA 25 DE MAYO"},
	{"VANDALISMO", "Rotura de parada de colectivo", "AV. PELLEGRINI 1500"},
}

type row struct {
	Open        bool
	When        string
	Type        string
	ID          string
	Operator    string
	Description string
	Address     string
}

// listing derives the page from the clock alone: incident n occurs at
// n*every since the Unix epoch, so every request agrees on ids and times.
type listing struct {
	clock   clockwork.Clock
	every   time.Duration
	openFor time.Duration
	span    time.Duration
	loc     *time.Location
	drift   bool
}

func (l *listing) rows() []row {
	now := l.clock.Now()
	step := int64(l.every)
	last := now.UnixNano() / step
	first := now.Add(-l.span).UnixNano()/step + 1

	rows := make([]row, 0, last-first+1)
	for n := last; n >= first; n-- {
		at := time.Unix(0, n*step).In(l.loc)
		tpl := incidentTemplates[n%int64(len(incidentTemplates))]
		rows = append(rows, row{
			Open:        now.Sub(at) < l.openFor,
			When:        at.Format(feed.TimestampLayout),
			Type:        tpl.typ,
			ID:          fmt.Sprintf("%d-%06d", at.Year(), n%1000000),
			Operator:    fmt.Sprintf("OP %d", n%20+1),
			Description: tpl.description,
			Address:     tpl.address,
		})
	}
	return rows
}

var pageTemplate = template.Must(template.New("listing").Parse(`<!DOCTYPE html>
<html lang="es">
<head><meta charset="utf-8"><title>Incidentes en curso</title></head>
<body>
<h1>Guardia Urbana - Incidentes</h1>
{{if .Drift}}<div class="listado">{{range .Rows}}
  <div class="item"><span>{{.When}}</span> <span>{{.Type}}</span> <span>{{.Address}}</span></div>{{end}}
</div>{{else}}<table class="listado">
  <tr><th>Estado</th><th>Fecha</th><th>Tipo</th><th>Nro</th><th>Operador</th><th>Descripción</th><th>Dirección</th></tr>{{range .Rows}}
  <tr>
    <td>{{if .Open}}<img src="/img/abierto.gif" alt="En curso">{{end}}</td>
    <td>{{.When}}</td>
    <td>{{.Type}}</td>
    <td>{{.ID}}</td>
    <td>{{.Operator}}</td>
    <td>{{.Description}}</td>
    <td>{{.Address}}</td>
  </tr>{{end}}
</table>{{end}}
</body>
</html>
`))

func (l *listing) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := pageTemplate.Execute(w, struct {
		Drift bool
		Rows  []row
	}{l.drift, l.rows()})
	if err != nil {
		slog.Warn("render listing failed", "error", err)
	}
}
