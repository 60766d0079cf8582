package store

import (
	"strconv"
	"strings"

	"github.com/cwbudde/maximizer/internal/maximize"
)

const columnWidth = 16

// Columns returns the table header for rec: weight, minuslogpost, the parameters,
// derived quantities that are not chi2 terms, minuslogprior with one column per
// parameter, then chi2 with one column per likelihood.
func Columns(rec maximize.MaximumRecord) []string {
	cols := []string{"weight", "minuslogpost"}
	cols = append(cols, rec.ParamNames...)

	chi2 := make(map[string]bool, len(rec.LikelihoodNames))
	for _, name := range rec.LikelihoodNames {
		chi2["chi2__"+name] = true
	}
	for _, name := range rec.DerivedNames {
		if !chi2[name] {
			cols = append(cols, name)
		}
	}

	cols = append(cols, "minuslogprior")
	for _, name := range rec.ParamNames {
		cols = append(cols, "minuslogprior__"+name)
	}
	cols = append(cols, "chi2")
	for _, name := range rec.LikelihoodNames {
		cols = append(cols, "chi2__"+name)
	}
	return cols
}

// Row returns the values matching Columns(rec)
func Row(rec maximize.MaximumRecord) []float64 {
	row := []float64{1, -rec.LogPost}
	row = append(row, rec.X...)

	chi2 := make(map[string]bool, len(rec.LikelihoodNames))
	for _, name := range rec.LikelihoodNames {
		chi2["chi2__"+name] = true
	}
	for i, name := range rec.DerivedNames {
		if !chi2[name] {
			row = append(row, rec.Derived[i])
		}
	}

	var logPrior float64
	for _, v := range rec.LogPriors {
		logPrior += v
	}
	row = append(row, -logPrior)
	for _, v := range rec.LogPriors {
		row = append(row, -v)
	}

	var logLike float64
	for _, v := range rec.LogLikes {
		logLike += v
	}
	row = append(row, -2*logLike)
	for _, v := range rec.LogLikes {
		row = append(row, -2*v)
	}
	return row
}

// FormatTable renders rec as a whitespace separated table with a '#' header line.
// Columns are right aligned; long names widen their column.
func FormatTable(rec maximize.MaximumRecord) string {
	var b strings.Builder

	cols := Columns(rec)
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = max(columnWidth, len(c)+1)
	}

	b.WriteString("#")
	for i, c := range cols {
		width := widths[i]
		if i == 0 {
			width--
		}
		b.WriteString(pad(c, width))
	}
	b.WriteByte('\n')

	for i, v := range Row(rec) {
		b.WriteString(pad(strconv.FormatFloat(v, 'g', 10, 64), widths[i]))
	}
	b.WriteByte('\n')
	return b.String()
}

func pad(s string, width int) string {
	if len(s) >= width {
		return " " + s
	}
	return strings.Repeat(" ", width-len(s)) + s
}
