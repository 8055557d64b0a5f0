package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/hookcron/hookcron-go/internal/common/logger"
	"github.com/hookcron/hookcron-go/pkg/payloads"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Layout, relative to the prefix:
//
//	jobs:<name>   hash {data: job JSON without schedule, enabled: 0|1, arm: arm id}
//	sched:<name>  hash {next: unix ms, attempt}
//	due           zset of enabled job names scored by next
//	runs:<name>   list of run JSON, newest first
type Store struct {
	client *redis.Client
	prefix string
	log    *logger.Logger
}

// claimScript pops the earliest due name and takes its schedule in one step.
// Entries left behind by deleted jobs are dropped on the way.
var claimScript = redis.NewScript(`
local due = KEYS[1]
local now = tonumber(ARGV[1])
local jobs = ARGV[2]
local sched = ARGV[3]
while true do
	local items = redis.call('ZRANGEBYSCORE', due, '-inf', now, 'LIMIT', 0, 1)
	if #items == 0 then
		return false
	end
	local name = items[1]
	redis.call('ZREM', due, name)
	local j = redis.call('HMGET', jobs .. name, 'data', 'arm')
	local s = redis.call('HMGET', sched .. name, 'next', 'attempt')
	redis.call('DEL', sched .. name)
	if j[1] and s[1] then
		return {j[1], s[1], s[2] or '0', j[2] or ''}
	end
end
`)

// saveScript only writes while the job is still claimed under ARGV[4]:
// a re-arm replaces the arm id and recreates the sched hash.
var saveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
if (redis.call('HGET', KEYS[1], 'arm') or '') ~= ARGV[4] or redis.call('EXISTS', KEYS[2]) == 1 then
	return -1
end
redis.call('DEL', KEYS[2])
redis.call('ZREM', KEYS[3], ARGV[1])
if ARGV[2] ~= '' then
	redis.call('HSET', KEYS[2], 'next', ARGV[2], 'attempt', ARGV[3])
	if redis.call('HGET', KEYS[1], 'enabled') == '1' then
		redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
	end
end
return 1
`)

// updateScript replaces the definition and keeps the due set in line with
// the enabled flag. The sched hash is left as it is.
var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[2], 'enabled', ARGV[3])
local at = redis.call('HGET', KEYS[2], 'next')
if ARGV[3] == '1' and at then
	redis.call('ZADD', KEYS[3], at, ARGV[1])
else
	redis.call('ZREM', KEYS[3], ARGV[1])
end
return 1
`)

type Options struct {
	Addr   string
	DB     int
	Prefix string
}

// New connects to redis and checks the connection.
func New(ctx context.Context, opts Options, log *logger.Logger) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: opts.Addr,
		DB:   opts.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connect failed: %w", err)
	}

	return NewWithClient(rdb, opts.Prefix, log), nil
}

func NewWithClient(client *redis.Client, prefix string, log *logger.Logger) *Store {
	if prefix == "" {
		prefix = core.DefaultStorePrefix
	}
	return &Store{
		client: client,
		prefix: prefix,
		log:    log.Named("redisstore"),
	}
}

func (s *Store) key(resource, name string) string {
	return core.NewKeyBuilder(s.prefix).Resource(resource).Name(name).Build()
}

func (s *Store) dueKey() string {
	return core.NewKeyBuilder(s.prefix).Resource("due").Build()
}

func (s *Store) ClaimDueJob(ctx context.Context, now time.Time) (*payloads.Job, error) {
	res, err := claimScript.Run(ctx, s.client,
		[]string{s.dueKey()},
		now.UnixMilli(), s.key("jobs", ""), s.key("sched", ""),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 4 {
		return nil, fmt.Errorf("unexpected claim reply of %d items", len(res))
	}

	job, err := decodeJob(res[0])
	if err != nil {
		return nil, err
	}
	sched, err := decodeSchedule(res[1], res[2])
	if err != nil {
		return nil, err
	}
	job.Schedule = sched
	job.ArmID = res[3]
	return job, nil
}

func (s *Store) SaveJob(ctx context.Context, job *payloads.Job) error {
	next, attempt := scheduleArgs(job.Schedule)
	saved, err := saveScript.Run(ctx, s.client,
		[]string{s.key("jobs", job.Name), s.key("sched", job.Name), s.dueKey()},
		job.Name, next, attempt, job.ArmID,
	).Int()
	if err != nil {
		return err
	}
	switch saved {
	case 0:
		return core.ErrJobNotFound
	case -1:
		return core.ErrJobRearmed
	}
	return nil
}

func (s *Store) UpsertJob(ctx context.Context, job *payloads.Job) error {
	data, err := encodeJob(job)
	if err != nil {
		return err
	}

	next, attempt := scheduleArgs(job.Schedule)
	jobKey, schedKey := s.key("jobs", job.Name), s.key("sched", job.Name)
	armID := payloads.NewArmID()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, jobKey, "data", data, "enabled", boolFlag(job.Enabled), "arm", armID)
		pipe.Del(ctx, schedKey)
		pipe.ZRem(ctx, s.dueKey(), job.Name)
		if next != "" {
			pipe.HSet(ctx, schedKey, "next", next, "attempt", attempt)
			if job.Enabled {
				pipe.ZAdd(ctx, s.dueKey(), redis.Z{
					Score:  float64(job.Schedule.Next.UnixMilli()),
					Member: job.Name,
				})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	job.ArmID = armID
	return nil
}

func (s *Store) UpdateJob(ctx context.Context, job *payloads.Job) error {
	data, err := encodeJob(job)
	if err != nil {
		return err
	}
	updated, err := updateScript.Run(ctx, s.client,
		[]string{s.key("jobs", job.Name), s.key("sched", job.Name), s.dueKey()},
		job.Name, data, boolFlag(job.Enabled),
	).Int()
	if err != nil {
		return err
	}
	if updated == 0 {
		return core.ErrJobNotFound
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, name string) (*payloads.Job, error) {
	var (
		dataCmd  *redis.StringCmd
		armCmd   *redis.StringCmd
		schedCmd *redis.SliceCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		dataCmd = pipe.HGet(ctx, s.key("jobs", name), "data")
		armCmd = pipe.HGet(ctx, s.key("jobs", name), "arm")
		schedCmd = pipe.HMGet(ctx, s.key("sched", name), "next", "attempt")
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	data, err := dataCmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job, err := decodeJob(data)
	if err != nil {
		return nil, err
	}
	job.ArmID = armCmd.Val()

	vals := schedCmd.Val()
	if len(vals) == 2 {
		next, _ := vals[0].(string)
		attempt, _ := vals[1].(string)
		if next != "" {
			if job.Schedule, err = decodeSchedule(next, attempt); err != nil {
				return nil, err
			}
		}
	}
	return job, nil
}

func (s *Store) DeleteJob(ctx context.Context, name string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.key("jobs", name))
		pipe.Del(ctx, s.key("sched", name))
		pipe.ZRem(ctx, s.dueKey(), name)
		return nil
	})
	if err != nil {
		return err
	}
	if del.Val() == 0 {
		return core.ErrJobNotFound
	}
	return nil
}

func (s *Store) AppendRun(ctx context.Context, run *payloads.RunRecord) error {
	data, err := json.Marshal(run)
	if err != nil {
		return core.ErrFailedToMarshalPayload.WithArgs(err)
	}
	return s.client.LPush(ctx, s.key("runs", run.JobName), data).Err()
}

func (s *Store) ListRuns(ctx context.Context, name string, limit int) ([]*payloads.RunRecord, error) {
	if limit <= 0 {
		limit = core.DefaultRunsLimit
	}
	raw, err := s.client.LRange(ctx, s.key("runs", name), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*payloads.RunRecord, 0, len(raw))
	for _, item := range raw {
		var run payloads.RunRecord
		if err := json.Unmarshal([]byte(item), &run); err != nil {
			s.log.Warn("skipping unreadable run record", zap.String("job", name), zap.Error(err))
			continue
		}
		out = append(out, &run)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// encodeJob drops the fields kept outside the data blob.
func encodeJob(job *payloads.Job) (string, error) {
	stripped := *job
	stripped.Schedule = nil
	stripped.ArmID = ""
	data, err := json.Marshal(&stripped)
	if err != nil {
		return "", core.ErrFailedToMarshalPayload.WithArgs(err)
	}
	return string(data), nil
}

func decodeJob(data string) (*payloads.Job, error) {
	var job payloads.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, core.ErrFailedToUnmarshalPayload.WithArgs(err)
	}
	return &job, nil
}

func decodeSchedule(next, attempt string) (*payloads.Schedule, error) {
	ms, err := strconv.ParseInt(next, 10, 64)
	if err != nil {
		return nil, core.ErrFailedToDecodeField.WithArgs("next", err)
	}
	n := 0
	if attempt != "" {
		if n, err = strconv.Atoi(attempt); err != nil {
			return nil, core.ErrFailedToDecodeField.WithArgs("attempt", err)
		}
	}
	return payloads.ScheduleAt(time.UnixMilli(ms).UTC(), n), nil
}

func scheduleArgs(sched *payloads.Schedule) (next string, attempt int) {
	if sched == nil || sched.Next == nil {
		return "", 0
	}
	return strconv.FormatInt(sched.Next.UnixMilli(), 10), sched.Attempt
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
