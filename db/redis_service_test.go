package db

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"pupilform-server-go/config"
	"pupilform-server-go/models"
)

func pupil(pid, klass, first, last string, extra ...string) models.Pupil {
	rec := models.Record{"PID": pid, "CLASS": klass, "FIRSTNAME": first, "LASTNAME": last}
	for i := 0; i+1 < len(extra); i += 2 {
		rec[extra[i]] = extra[i+1]
	}
	if rec["PSORT"] == "" {
		rec["PSORT"] = MakePSort(rec)
	}
	return models.Pupil{ID: pid, Class: klass, Fields: rec}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "year:2016:classes", getClassesKey(2016))
	assert.Equal(t, "year:2016:class:10K:pupils", getClassPupilsKey(2016, "10K"))
	assert.Equal(t, "year:2016:pupil:200501", getPupilKey(2016, "200501"))
}

func TestMakePSort(t *testing.T) {
	assert.Equal(t, "meier anna", MakePSort(models.Record{"FIRSTNAME": "Anna", "LASTNAME": "Meier"}))
}

func TestFilterPupils(t *testing.T) {
	pupils := []models.Pupil{
		pupil("3", "12", "Zoe", "Adler", "STREAM", "RS"),
		pupil("1", "12", "Max", "Weber", "STREAM", "Gym"),
		pupil("2", "12", "Eva", "Braun", "STREAM", "RS", "EXIT_D", "2016-01-31"),
	}

	t.Run("ordered by PSORT", func(t *testing.T) {
		got := filterPupils(append([]models.Pupil(nil), pupils...), "", "")
		require.Len(t, got, 3)
		assert.Equal(t, []string{"3", "2", "1"}, []string{got[0].ID, got[1].ID, got[2].ID})
	})

	t.Run("stream", func(t *testing.T) {
		got := filterPupils(append([]models.Pupil(nil), pupils...), "RS", "")
		require.Len(t, got, 2)
		assert.Equal(t, "3", got[0].ID)
	})

	t.Run("exit date", func(t *testing.T) {
		got := filterPupils(append([]models.Pupil(nil), pupils...), "", "2016-02-01")
		require.Len(t, got, 2)
		for _, p := range got {
			assert.NotEqual(t, "2", p.ID)
		}
	})
}

func TestBuildDataset(t *testing.T) {
	fields := []models.Pair{{"PID", "ID"}, {"LASTNAME", "Name"}, {"HOME", "Ort"}}
	ds := BuildDataset([]models.Pupil{pupil("p1", "10K", "Anna", "Meier")}, fields)

	assert.Equal(t, []models.Pair{{"p1", "Anna Meier"}}, ds.PupilList)
	assert.Equal(t, fields, ds.Fields)
	assert.Equal(t, models.Record{"PID": "p1", "LASTNAME": "Meier"}, ds.PupilData["p1"])
}

func TestBuildDataset_Empty(t *testing.T) {
	ds := BuildDataset(nil, nil)
	assert.NotNil(t, ds.PupilList)
	assert.NotNil(t, ds.PupilData)
	assert.NotNil(t, ds.Fields)
}

func workbook(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestParsePupilRows(t *testing.T) {
	buf := workbook(t, [][]interface{}{
		{"ID", "Rufname", "LASTNAME", "Bemerkung"},
		{"200501", "Anna", "Meier", "ignored"},
		{"", "Nobody", "Missing"},
		{"200502", "Jonas"},
	})

	records, err := ParsePupilRows(buf, config.DefaultFields)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.Record{"PID": "200501", "FIRSTNAME": "Anna", "LASTNAME": "Meier"}, records[0])
	assert.Equal(t, models.Record{"PID": "200502", "FIRSTNAME": "Jonas"}, records[1])
}

func TestParsePupilRows_NoPIDColumn(t *testing.T) {
	buf := workbook(t, [][]interface{}{{"Name"}, {"Meier"}})
	_, err := ParsePupilRows(buf, config.DefaultFields)
	assert.Error(t, err)
}

func TestParsePupilRows_NotExcel(t *testing.T) {
	_, err := ParsePupilRows(bytes.NewReader([]byte("not a workbook")), config.DefaultFields)
	assert.Error(t, err)
}

func TestParsePupilRows_Dates(t *testing.T) {
	buf := workbook(t, [][]interface{}{
		{"ID", "Geburtsdatum", "Schulaustritt", "Eintrittsdatum", "Ort"},
		{"200501", time.Date(2000, time.March, 14, 0, 0, 0, 0, time.UTC), "31.01.2016", "2010-08-01", "12.5"},
	})

	records, err := ParsePupilRows(buf, config.DefaultFields)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "2000-03-14", records[0]["DOB_D"])
	assert.Equal(t, "2016-01-31", records[0]["EXIT_D"])
	assert.Equal(t, "2010-08-01", records[0]["ENTRY_D"])
	assert.Equal(t, "12.5", records[0]["HOME"], "only date fields are converted")
}

func TestNormalizeDate(t *testing.T) {
	for in, want := range map[string]string{
		"2016-01-31": "2016-01-31",
		"31.01.2016": "2016-01-31",
		"1.2.2016":   "2016-02-01",
		"01-31-16":   "2016-01-31",
		"42400":      "2016-01-31",
		"unbekannt":  "unbekannt",
	} {
		assert.Equal(t, want, normalizeDate(in), in)
	}
}

// newTestService connects to REDIS_ADDR (DB 15, flushed) when it is set
// and to an in-process miniredis otherwise.
func newTestService(t *testing.T) *RedisService {
	t.Helper()
	ctx := context.Background()
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
		t.Cleanup(func() {
			client.FlushDB(ctx)
			client.Close()
		})
		require.NoError(t, client.FlushDB(ctx).Err())
		return NewRedisService(client, config.DefaultFields)
	}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisService(client, config.DefaultFields)
}

const testYear = 2016

func addPupils(t *testing.T, s *RedisService, recs ...models.Record) {
	t.Helper()
	for _, rec := range recs {
		require.NoError(t, s.AddPupil(context.Background(), testYear, rec))
	}
}

func TestRedisService(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	addPupils(t, s,
		models.Record{"PID": "p2", "CLASS": "10K", "FIRSTNAME": "Jonas", "LASTNAME": "Bauer"},
		models.Record{"PID": "p1", "CLASS": "10K", "FIRSTNAME": "Anna", "LASTNAME": "Meier", "STREAM": "RS"},
		models.Record{"PID": "p3", "CLASS": "09", "FIRSTNAME": "Paul", "LASTNAME": "Schulz"},
	)
	assert.ErrorIs(t, s.AddPupil(ctx, testYear, models.Record{"PID": "p4"}), ErrInvalidPupil)

	classes, err := s.GetClasses(ctx, testYear, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"10K", "09"}, classes)

	ds, err := s.Dataset(ctx, models.PupilsRequest{Year: testYear, Klass: "10K"})
	require.NoError(t, err)
	assert.Equal(t, []models.Pair{{"p2", "Jonas Bauer"}, {"p1", "Anna Meier"}}, ds.PupilList)
	assert.Equal(t, "RS", ds.PupilData["p1"]["STREAM"])

	streams, err := s.GetStreams(ctx, testYear, "10K")
	require.NoError(t, err)
	assert.Equal(t, []string{"", "RS"}, streams)

	assert.ErrorIs(t, s.UpdatePupil(ctx, testYear, "p3", models.Record{"PID": "x"}), ErrPIDChange)
	assert.ErrorIs(t, s.UpdatePupil(ctx, testYear, "nope", models.Record{"HOME": "x"}), ErrUnknownPupil)
	assert.ErrorIs(t, s.RemovePupil(ctx, testYear, "nope"), ErrUnknownPupil)
}

func TestAddPupil_DuplicatePID(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	addPupils(t, s, models.Record{"PID": "p1", "CLASS": "10K", "FIRSTNAME": "Anna", "LASTNAME": "Meier"})

	err := s.AddPupil(ctx, testYear, models.Record{"PID": "p1", "CLASS": "09", "FIRSTNAME": "Eva", "LASTNAME": "Braun"})
	assert.ErrorIs(t, err, ErrDuplicatePupil)

	p, err := s.GetPupil(ctx, testYear, "p1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "10K", p.Class)
	assert.Equal(t, "Anna", p.Fields["FIRSTNAME"])

	// SavePupil replaces
	require.NoError(t, s.SavePupil(ctx, testYear, models.Record{"PID": "p1", "CLASS": "10K", "FIRSTNAME": "Anne", "LASTNAME": "Meier"}))
	p, err = s.GetPupil(ctx, testYear, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Anne", p.Fields["FIRSTNAME"])
}

func TestUpdatePupil_ClassMoveDropsEmptyClass(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	addPupils(t, s,
		models.Record{"PID": "p1", "CLASS": "10K", "FIRSTNAME": "Anna", "LASTNAME": "Meier"},
		models.Record{"PID": "p3", "CLASS": "09", "FIRSTNAME": "Paul", "LASTNAME": "Schulz"},
	)

	require.NoError(t, s.UpdatePupil(ctx, testYear, "p3", models.Record{"CLASS": "10K"}))

	pupils, err := s.ClassPupils(ctx, testYear, "09", "", "")
	require.NoError(t, err)
	assert.Empty(t, pupils)
	pupils, err = s.ClassPupils(ctx, testYear, "10K", "", "")
	require.NoError(t, err)
	assert.Len(t, pupils, 2)

	classes, err := s.GetClasses(ctx, testYear, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"10K"}, classes)
	exists, err := s.ClassExists(ctx, testYear, "09")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRemovePupil_DropsEmptyClass(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	addPupils(t, s,
		models.Record{"PID": "p1", "CLASS": "10K", "FIRSTNAME": "Anna", "LASTNAME": "Meier"},
		models.Record{"PID": "p2", "CLASS": "10K", "FIRSTNAME": "Jonas", "LASTNAME": "Bauer"},
		models.Record{"PID": "p3", "CLASS": "09", "FIRSTNAME": "Paul", "LASTNAME": "Schulz"},
	)

	require.NoError(t, s.RemovePupil(ctx, testYear, "p3"))
	p, err := s.GetPupil(ctx, testYear, "p3")
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, s.RemovePupil(ctx, testYear, "p1"))
	classes, err := s.GetClasses(ctx, testYear, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"10K"}, classes, "a class with pupils left stays")
}

func TestGetClasses_Stream(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	addPupils(t, s,
		models.Record{"PID": "p1", "CLASS": "10K", "FIRSTNAME": "Anna", "LASTNAME": "Meier", "STREAM": "RS"},
		models.Record{"PID": "p2", "CLASS": "10G", "FIRSTNAME": "Jonas", "LASTNAME": "Bauer", "STREAM": "Gym"},
		models.Record{"PID": "p3", "CLASS": "09", "FIRSTNAME": "Paul", "LASTNAME": "Schulz", "STREAM": "RS"},
	)

	classes, err := s.GetClasses(ctx, testYear, "RS")
	require.NoError(t, err)
	assert.Equal(t, []string{"10K", "09"}, classes)

	classes, err = s.GetClasses(ctx, testYear, "HS")
	require.NoError(t, err)
	assert.Empty(t, classes)
}

func TestUpdatePupil_RenameRegeneratesPSort(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	addPupils(t, s,
		models.Record{"PID": "p1", "CLASS": "10K", "FIRSTNAME": "Anna", "LASTNAME": "Adler"},
		models.Record{"PID": "p2", "CLASS": "10K", "FIRSTNAME": "Jonas", "LASTNAME": "Bauer"},
	)

	require.NoError(t, s.UpdatePupil(ctx, testYear, "p1", models.Record{"LASTNAME": "Zander"}))
	p, err := s.GetPupil(ctx, testYear, "p1")
	require.NoError(t, err)
	assert.Equal(t, "zander anna", p.Fields["PSORT"])

	ds, err := s.Dataset(ctx, models.PupilsRequest{Year: testYear, Klass: "10K"})
	require.NoError(t, err)
	assert.Equal(t, []models.Pair{{"p2", "Jonas Bauer"}, {"p1", "Anna Zander"}}, ds.PupilList)

	// An explicit PSORT is kept
	require.NoError(t, s.UpdatePupil(ctx, testYear, "p2", models.Record{"FIRSTNAME": "Jo", "PSORT": "aaa"}))
	p, err = s.GetPupil(ctx, testYear, "p2")
	require.NoError(t, err)
	assert.Equal(t, "aaa", p.Fields["PSORT"])
}

func TestDataset_StreamAndDate(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	addPupils(t, s,
		models.Record{"PID": "p1", "CLASS": "10K", "FIRSTNAME": "Anna", "LASTNAME": "Meier", "STREAM": "RS"},
		models.Record{"PID": "p2", "CLASS": "10K", "FIRSTNAME": "Jonas", "LASTNAME": "Bauer", "STREAM": "Gym"},
		models.Record{"PID": "p3", "CLASS": "10K", "FIRSTNAME": "Mia", "LASTNAME": "Hoffmann", "STREAM": "RS", "EXIT_D": "2016-01-31"},
	)

	ds, err := s.Dataset(ctx, models.PupilsRequest{Year: testYear, Klass: "10K", Stream: "RS"})
	require.NoError(t, err)
	assert.Equal(t, []models.Pair{{"p3", "Mia Hoffmann"}, {"p1", "Anna Meier"}}, ds.PupilList)

	ds, err = s.Dataset(ctx, models.PupilsRequest{Year: testYear, Klass: "10K", Stream: "RS", Date: "2016-02-01"})
	require.NoError(t, err)
	assert.Equal(t, []models.Pair{{"p1", "Anna Meier"}}, ds.PupilList)
	assert.NotContains(t, ds.PupilData, "p3")
}

func TestImportPupilsFromExcel(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	addPupils(t, s, models.Record{"PID": "200501", "CLASS": "09", "FIRSTNAME": "Anna", "LASTNAME": "Meier"})

	buf := workbook(t, [][]interface{}{
		{"ID", "Rufname", "Name", "Klasse"},
		{"200501", "Anna", "Meier", "10K"},
		{"200502", "Jonas", "Bauer", "10K"},
		{"200503", "", "Ohne", "10K"},
	})
	n, err := s.ImportPupilsFromExcel(ctx, buf, testYear, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	classes, err := s.GetClasses(ctx, testYear, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"10K"}, classes)
}

func TestSeedData(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	s.SeedData(ctx, testYear)

	n, err := s.CountClasses(ctx, testYear)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
