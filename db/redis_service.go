package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"
	"pupilform-server-go/config"
	"pupilform-server-go/models"
)

// All keys are scoped by school year:
//
//	year:{y}:classes              Set: class names
//	year:{y}:class:{k}:pupils     Set: pupil ids of a class
//	year:{y}:pupil:{pid}          Hash: field key -> value
const yearPrefix = "year:"

var (
	// ErrInvalidPupil is returned for records without PID, CLASS or names
	ErrInvalidPupil = errors.New("pupil PID, CLASS, FIRSTNAME and LASTNAME cannot be empty")
	// ErrPIDChange is returned when an update tries to change the PID
	ErrPIDChange = errors.New("field PID may not be changed")
	// ErrUnknownPupil is returned when a pupil id is not in the store
	ErrUnknownPupil = errors.New("unknown pupil")
	// ErrDuplicatePupil is returned when a new pupil reuses an existing PID
	ErrDuplicatePupil = errors.New("pupil already exists")
)

// dropEmptyClass removes a class (ARGV[1]) from the classes set (KEYS[2])
// once its pupil set (KEYS[1]) is empty. It runs inside the transaction
// that removed the pupil.
const dropEmptyClass = `
if redis.call('SCARD', KEYS[1]) == 0 then
	return redis.call('SREM', KEYS[2], ARGV[1])
end
return 0
`

// RedisService handles the pupil data of all school years
type RedisService struct {
	Client *redis.Client
	Fields []models.Pair // ordered (key, label) pairs delivered with every dataset
}

// NewRedisService creates a new RedisService instance
func NewRedisService(client *redis.Client, fields []models.Pair) *RedisService {
	return &RedisService{
		Client: client,
		Fields: fields,
	}
}

func getClassesKey(year int) string {
	return yearPrefix + strconv.Itoa(year) + ":classes"
}

func getClassPupilsKey(year int, klass string) string {
	return yearPrefix + strconv.Itoa(year) + ":class:" + klass + ":pupils"
}

func getPupilKey(year int, pid string) string {
	return yearPrefix + strconv.Itoa(year) + ":pupil:" + pid
}

// MakePSort builds the sort name of a pupil, used for list ordering
// when the record has no PSORT of its own.
func MakePSort(rec models.Record) string {
	return strings.ToLower(strings.TrimSpace(rec["LASTNAME"] + " " + rec["FIRSTNAME"]))
}

func toHash(rec models.Record) map[string]interface{} {
	h := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		h[k] = v
	}
	return h
}

// --- Class Operations ---

// GetClasses returns the class names of a school year, sorted in
// descending order as the class selector shows them. A non-empty stream
// limits the result to classes with at least one pupil in that stream.
func (s *RedisService) GetClasses(ctx context.Context, year int, stream string) ([]string, error) {
	classes, err := s.Client.SMembers(ctx, getClassesKey(year)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		log.Printf("Error getting classes for year %d: %v", year, err)
		return nil, fmt.Errorf("failed to get classes from Redis: %w", err)
	}
	if stream != "" {
		inStream := classes[:0]
		for _, klass := range classes {
			pupils, err := s.ClassPupils(ctx, year, klass, stream, "")
			if err != nil {
				return nil, err
			}
			if len(pupils) > 0 {
				inStream = append(inStream, klass)
			}
		}
		classes = inStream
	}
	sort.Sort(sort.Reverse(sort.StringSlice(classes)))
	return classes, nil
}

// CountClasses returns the number of classes stored for a school year
func (s *RedisService) CountClasses(ctx context.Context, year int) (int64, error) {
	n, err := s.Client.SCard(ctx, getClassesKey(year)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to count classes: %w", err)
	}
	return n, nil
}

// ClassExists checks if a class has been registered for the year
func (s *RedisService) ClassExists(ctx context.Context, year int, klass string) (bool, error) {
	exists, err := s.Client.SIsMember(ctx, getClassesKey(year), klass).Result()
	if err != nil {
		log.Printf("Error checking existence for class %s/%d: %v", klass, year, err)
		return false, fmt.Errorf("failed to check class existence: %w", err)
	}
	return exists, nil
}

// GetStreams returns the sorted stream names used in a class. Pupils
// without a stream contribute "".
func (s *RedisService) GetStreams(ctx context.Context, year int, klass string) ([]string, error) {
	pupils, err := s.ClassPupils(ctx, year, klass, "", "")
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	streams := []string{}
	for _, p := range pupils {
		st := p.Fields["STREAM"]
		if !seen[st] {
			seen[st] = true
			streams = append(streams, st)
		}
	}
	sort.Strings(streams)
	return streams, nil
}

// --- Pupil Operations ---

// AddPupil stores a new pupil record. A PID that is already in use
// gives ErrDuplicatePupil.
func (s *RedisService) AddPupil(ctx context.Context, year int, rec models.Record) error {
	if err := validatePupil(rec); err != nil {
		return err
	}
	old, err := s.GetPupil(ctx, year, rec["PID"])
	if err != nil {
		return err
	}
	if old != nil {
		return fmt.Errorf("%w: %s", ErrDuplicatePupil, rec["PID"])
	}
	return s.storePupil(ctx, year, rec, nil)
}

// SavePupil stores a pupil record. An existing pupil with the same PID is
// replaced, and moved if the class changed.
func (s *RedisService) SavePupil(ctx context.Context, year int, rec models.Record) error {
	if err := validatePupil(rec); err != nil {
		return err
	}
	old, err := s.GetPupil(ctx, year, rec["PID"])
	if err != nil {
		return err
	}
	return s.storePupil(ctx, year, rec, old)
}

func validatePupil(rec models.Record) error {
	if rec["PID"] == "" || rec["CLASS"] == "" || rec["FIRSTNAME"] == "" || rec["LASTNAME"] == "" {
		return ErrInvalidPupil
	}
	return nil
}

// storePupil writes rec, replacing old. A class left empty by a move is
// removed from the year's classes.
func (s *RedisService) storePupil(ctx context.Context, year int, rec models.Record, old *models.Pupil) error {
	pid, klass := rec["PID"], rec["CLASS"]
	hash := toHash(rec)
	if rec["PSORT"] == "" {
		hash["PSORT"] = MakePSort(rec)
	}

	pupilKey := getPupilKey(year, pid)
	pipe := s.Client.TxPipeline()
	if old != nil {
		if old.Class != klass {
			oldKey := getClassPupilsKey(year, old.Class)
			pipe.SRem(ctx, oldKey, pid)
			pipe.Eval(ctx, dropEmptyClass, []string{oldKey, getClassesKey(year)}, old.Class)
		}
		pipe.Del(ctx, pupilKey)
	}
	pipe.SAdd(ctx, getClassesKey(year), klass)
	pipe.SAdd(ctx, getClassPupilsKey(year, klass), pid)
	pipe.HSet(ctx, pupilKey, hash)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("Error storing pupil %s in class %s: %v", pid, klass, err)
		return fmt.Errorf("failed to store pupil in Redis: %w", err)
	}
	return nil
}

// GetPupil retrieves a pupil by id. A missing pupil yields (nil, nil).
func (s *RedisService) GetPupil(ctx context.Context, year int, pid string) (*models.Pupil, error) {
	data, err := s.Client.HGetAll(ctx, getPupilKey(year, pid)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		log.Printf("Error getting pupil %s: %v", pid, err)
		return nil, fmt.Errorf("failed to get pupil from Redis: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &models.Pupil{ID: pid, Class: data["CLASS"], Fields: data}, nil
}

// UpdatePupil changes the given fields of a pupil. PID may not be changed.
func (s *RedisService) UpdatePupil(ctx context.Context, year int, pid string, changes models.Record) error {
	if v, ok := changes["PID"]; ok && v != pid {
		return ErrPIDChange
	}
	p, err := s.GetPupil(ctx, year, pid)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPupil, pid)
	}
	for k, v := range changes {
		p.Fields[k] = v
	}
	_, first := changes["FIRSTNAME"]
	_, last := changes["LASTNAME"]
	if _, ok := changes["PSORT"]; !ok && (first || last) {
		p.Fields["PSORT"] = MakePSort(p.Fields)
	}
	if err := validatePupil(p.Fields); err != nil {
		return err
	}
	// p.Class still holds the stored class
	return s.storePupil(ctx, year, p.Fields, p)
}

// RemovePupil removes the pupil with the given id. A class left without
// pupils is removed as well.
func (s *RedisService) RemovePupil(ctx context.Context, year int, pid string) error {
	p, err := s.GetPupil(ctx, year, pid)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPupil, pid)
	}
	pipe := s.Client.TxPipeline()
	classKey := getClassPupilsKey(year, p.Class)
	pipe.SRem(ctx, classKey, pid)
	pipe.Eval(ctx, dropEmptyClass, []string{classKey, getClassesKey(year)}, p.Class)
	pipe.Del(ctx, getPupilKey(year, pid))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("Error removing pupil %s: %v", pid, err)
		return fmt.Errorf("failed to remove pupil from Redis: %w", err)
	}
	return nil
}

// ClassPupils returns the pupils of a class ordered by PSORT. A non-empty
// stream limits the result to that stream; a non-empty date (YYYY-MM-DD)
// skips pupils whose exit date lies before it.
func (s *RedisService) ClassPupils(ctx context.Context, year int, klass, stream, date string) ([]models.Pupil, error) {
	pids, err := s.Client.SMembers(ctx, getClassPupilsKey(year, klass)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []models.Pupil{}, nil
		}
		log.Printf("Error getting pupil ids for class %s: %v", klass, err)
		return nil, fmt.Errorf("failed to get pupil ids from Redis for class %s: %w", klass, err)
	}

	pupils := make([]models.Pupil, 0, len(pids))
	for _, pid := range pids {
		p, err := s.GetPupil(ctx, year, pid)
		if err != nil {
			log.Printf("Error fetching pupil %s in class %s: %v", pid, klass, err)
			continue
		}
		if p == nil {
			continue
		}
		pupils = append(pupils, *p)
	}
	return filterPupils(pupils, stream, date), nil
}

func filterPupils(pupils []models.Pupil, stream, date string) []models.Pupil {
	out := pupils[:0]
	for _, p := range pupils {
		if stream != "" && p.Fields["STREAM"] != stream {
			continue
		}
		if date != "" {
			if exd := p.Fields["EXIT_D"]; exd != "" && exd < date {
				continue
			}
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Fields["PSORT"] == out[j].Fields["PSORT"] {
			return out[i].ID < out[j].ID
		}
		return out[i].Fields["PSORT"] < out[j].Fields["PSORT"]
	})
	return out
}

// Dataset assembles the core/pupils response for one class
func (s *RedisService) Dataset(ctx context.Context, req models.PupilsRequest) (*models.Dataset, error) {
	pupils, err := s.ClassPupils(ctx, req.Year, req.Klass, req.Stream, req.Date)
	if err != nil {
		return nil, err
	}
	return BuildDataset(pupils, s.Fields), nil
}

// BuildDataset converts ordered pupils into a dataset. Records only carry
// the configured fields; missing values are left out.
func BuildDataset(pupils []models.Pupil, fields []models.Pair) *models.Dataset {
	ds := &models.Dataset{
		PupilList: make([]models.Pair, 0, len(pupils)),
		PupilData: make(map[string]models.Record, len(pupils)),
		Fields:    fields,
	}
	if ds.Fields == nil {
		ds.Fields = []models.Pair{}
	}
	for _, p := range pupils {
		ds.PupilList = append(ds.PupilList, models.Pair{p.ID, p.DisplayName()})
		rec := make(models.Record, len(fields))
		for _, f := range fields {
			if v, ok := p.Fields[f.Key()]; ok {
				rec[f.Key()] = v
			}
		}
		ds.PupilData[p.ID] = rec
	}
	return ds
}

// --- Seed Data ---

// SeedData adds a small test class for the given year
func (s *RedisService) SeedData(ctx context.Context, year int) {
	log.Printf("Seeding test pupils for year %d...", year)

	seed := []models.Record{
		{"PID": "200501", "CLASS": "10K", "FIRSTNAME": "Anna", "LASTNAME": "Meier", "SEX": "w", "DOB_D": "2000-03-14", "HOME": "Bodenfelde"},
		{"PID": "200502", "CLASS": "10K", "FIRSTNAME": "Jonas", "LASTNAME": "Bauer", "SEX": "m", "DOB_D": "2000-07-02", "HOME": "Uslar"},
		{"PID": "200503", "CLASS": "10K", "FIRSTNAME": "Lena", "LASTNAME": "Zimmermann", "SEX": "w", "STREAM": "RS"},
		{"PID": "200601", "CLASS": "09", "FIRSTNAME": "Paul", "LASTNAME": "Schulz", "SEX": "m"},
		{"PID": "200602", "CLASS": "09", "FIRSTNAME": "Mia", "LASTNAME": "Hoffmann", "SEX": "w", "EXIT_D": "2016-01-31"},
	}
	for _, rec := range seed {
		if err := s.AddPupil(ctx, year, rec); err != nil {
			log.Printf("Error adding test pupil %s: %v", rec["PID"], err)
		}
	}
	log.Println("Seeding complete.")
}

// --- Utility ---

// InitializeRedisClient creates and tests a Redis client connection
func InitializeRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("could not connect to Redis at %s: %w", cfg.Addr, err)
	}

	log.Printf("Successfully connected to Redis DB %d", cfg.DB)
	return rdb, nil
}
