package crawler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeTotals(t *testing.T) {
	t.Parallel()

	rec := Record{
		Candidates: []CandidateResult{{Votes: 10}, {Votes: 5}},
		Stats:      Statistics{BlankVotes: 2, NullVotes: 3},
	}
	rec.ComputeTotals()

	require.Equal(t, int64(15), rec.Stats.ValidVotes)
	require.Equal(t, int64(20), rec.Stats.TotalVotes)
	require.True(t, rec.TotalsConsistent())

	rec.Stats.TotalVotes++
	require.False(t, rec.TotalsConsistent())
}

func TestEncodeKeepsStoredKeys(t *testing.T) {
	t.Parallel()

	name := "HND_2025_JRV_00042.pdf"
	rec := Record{
		StationID:  42,
		Geography:  Geography{DepartmentName: "Atlántida"},
		Candidates: []CandidateResult{},
		Documents:  Documents{Downloaded: true, LocalName: &name},
	}
	data, err := rec.Encode()
	require.NoError(t, err)
	require.Contains(t, string(data), `"nom_depto":"Atlántida"`)
	require.Contains(t, string(data), `"corte_servidor":null`)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	for _, key := range []string{"id_jrv", "timestamps", "geografia", "auditoria", "estadisticas", "detalle_resultados", "documentos"} {
		require.Contains(t, decoded, key)
	}
}
