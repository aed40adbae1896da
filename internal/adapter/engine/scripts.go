package engine

import (
	"bytes"
	"fmt"
	"strconv"
	"text/template"

	"github.com/couchcryptid/basin-forecast-pipeline/internal/domain"
)

var funcs = template.FuncMap{
	"py": strconv.Quote,
	"num": func(f float64) string {
		return strconv.FormatFloat(f, 'f', -1, 64)
	},
}

var importTemplate = template.Must(template.New("import").Funcs(funcs).Parse(`from mil.army.usace.hec.vortex.io import BatchImporter
from mil.army.usace.hec.vortex.geo import WktFactory

geo_options = {
    "pathToShp": {{py .ClipShape}},
    "targetCellSize": {{py (num .CellSize)}},
    "targetWkt": WktFactory.fromEpsg({{.TargetEPSG}}),
    "resamplingMethod": {{py .Resampling}},
}

write_options = {
    "partA": {{py .Write.PartA}},
    "partB": {{py .Write.PartB}},
    "partC": {{py .Write.PartC}},
    "partF": {{py .Write.PartF}},
    "dataType": {{py .Write.DataType}},
    "units": {{py .Write.Units}},
}

importer = BatchImporter.builder() \
    .inFiles([{{range $i, $f := .Files}}{{if $i}}, {{end}}{{py $f}}{{end}}]) \
    .variables([{{range $i, $v := .Variables}}{{if $i}}, {{end}}{{py $v}}{{end}}]) \
    .geoOptions(geo_options) \
    .destination({{py .Destination}}) \
    .writeOptions(write_options) \
    .build()
importer.process()
`))

var computeTemplate = template.Must(template.New("compute").Funcs(funcs).Parse(`from hms.model import Project
from hms import Hms

project = Project.open({{py .Project}})
try:
    project.computeForecast({{py .Forecast}})
finally:
    project.close()
    Hms.shutdownEngine()
`))

func renderImport(req domain.ImportRequest) (string, error) {
	var b bytes.Buffer
	if err := importTemplate.Execute(&b, req); err != nil {
		return "", fmt.Errorf("render import script: %w", err)
	}
	return b.String(), nil
}

func renderCompute(project, forecast string) (string, error) {
	var b bytes.Buffer
	data := struct{ Project, Forecast string }{project, forecast}
	if err := computeTemplate.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render compute script: %w", err)
	}
	return b.String(), nil
}
