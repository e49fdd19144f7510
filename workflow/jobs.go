package workflow

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/possync_backend/config"
	"bitbucket.org/mmdatafocus/possync_backend/models"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	lockKeyAuditRetention = "possync:audit-retention"
	lockKeyDueDateSweep   = "possync:due-date-sweep"
)

// StartBackgroundJobs launches the periodic sweeps. Each tick runs on at most
// one instance fleet-wide, guarded by the advisory lock.
func StartBackgroundJobs(ctx context.Context) {
	go runPeriodicJob(ctx, lockKeyAuditRetention,
		time.Duration(intFromEnv("AUDIT_RETENTION_SWEEP_MINUTES", 60))*time.Minute,
		auditRetentionSweep)
	go runPeriodicJob(ctx, lockKeyDueDateSweep,
		time.Duration(intFromEnv("DUE_DATE_SWEEP_MINUTES", 15))*time.Minute,
		dueDateSweep)
}

func runPeriodicJob(ctx context.Context, lockKey string, interval time.Duration, job func(conn *gorm.DB) error) {
	logger := config.GetLogger()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		db := config.GetDB()
		if db == nil {
			continue
		}

		// Redis lock is a best-effort optimization to avoid waking MySQL from
		// every instance. Reliability must not depend on Redis: the advisory
		// lock inside RunJobWithAdvisoryLock is the real mutual exclusion.
		var redisLock *redislock.Lock
		if locker := config.GetRedisLock(); locker != nil {
			l, err := locker.Obtain(ctx, "joblock:"+lockKey, interval, nil)
			if err == redislock.ErrNotObtained {
				continue
			}
			if err == nil {
				redisLock = l
			}
		}

		result := RunJobWithAdvisoryLock(db, lockKey, job)

		if redisLock != nil {
			_ = redisLock.Release(ctx)
		}

		if result.Err != nil {
			config.LogError(logger, "jobs.go", "runPeriodicJob", lockKey, nil, result.Err)
			continue
		}
		if result.Skipped {
			logger.WithFields(logrus.Fields{"job": lockKey, "reason": result.Reason}).Debug("job skipped")
		}
	}
}

func auditRetentionSweep(conn *gorm.DB) error {
	retentionDays := intFromEnv("SYNC_AUDIT_RETENTION_DAYS", 30)
	olderThan := time.Now().AddDate(0, 0, -retentionDays)

	pruned, err := models.PruneSyncAuditLog(conn, olderThan)
	if err != nil {
		return err
	}
	if pruned > 0 {
		config.GetLogger().WithFields(logrus.Fields{"job": lockKeyAuditRetention, "pruned": pruned}).Info("audit entries pruned")
	}
	return nil
}

func dueDateSweep(conn *gorm.DB) error {
	marked, err := models.MarkOverdueExpenses(conn, time.Now())
	if err != nil {
		return err
	}
	if marked > 0 {
		config.GetLogger().WithFields(logrus.Fields{"job": lockKeyDueDateSweep, "marked": marked}).Info("expenses marked overdue")
	}
	return nil
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
