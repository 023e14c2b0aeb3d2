package operation

import (
	"context"

	"github.com/aman-churiwal/velero-api/internal/cluster"
)

const APIPrefix = "/api/v1"

// ClusterReader is the part of the cluster store the routes read from.
type ClusterReader interface {
	Stats(ctx context.Context) (*cluster.Stats, error)
	ListBackups(ctx context.Context) ([]cluster.BackupView, error)
	GetBackup(ctx context.Context, name string) (*cluster.BackupView, error)
	ListRestores(ctx context.Context) ([]cluster.RestoreView, error)
	ListSchedules(ctx context.Context) ([]cluster.ScheduleView, error)
	ListBackupStorageLocations(ctx context.Context) ([]cluster.BackupStorageLocationView, error)
	ListVolumeSnapshotLocations(ctx context.Context) ([]cluster.VolumeSnapshotLocationView, error)
	ListBackupRepositories(ctx context.Context) ([]cluster.RepositoryView, error)
	StorageClassMappings(ctx context.Context) ([]cluster.StorageClassMapping, error)
	ListPodVolumeBackups(ctx context.Context) ([]cluster.PodVolumeBackupView, error)
	ListPodVolumeRestores(ctx context.Context) ([]cluster.PodVolumeRestoreView, error)
}

type HealthProber interface {
	Check(ctx context.Context) cluster.HealthReport
}

func list[T any](fn func(context.Context) (T, error)) Handler {
	return func(ctx context.Context, _ Request) (interface{}, error) {
		return fn(ctx)
	}
}

// RegisterVelero adds the read-only Velero routes.
func RegisterVelero(t *Table, store ClusterReader, health HealthProber) error {
	ops := []Operation{
		{Path: APIPrefix + "/stats", Tag: "Stats", Name: "get_stats", CredentialRequired: true, Handler: list(store.Stats)},
		{
			Path: APIPrefix + "/k8s/health", Tag: "Health", Name: "get_k8s_health",
			Handler: func(ctx context.Context, _ Request) (interface{}, error) {
				return health.Check(ctx), nil
			},
		},
		{Path: APIPrefix + "/backups", Tag: "Backup", Name: "get_backups", CredentialRequired: true, Handler: list(store.ListBackups)},
		{
			Path: APIPrefix + "/backups/:name", Tag: "Backup", Name: "get_backup", CredentialRequired: true,
			Handler: func(ctx context.Context, req Request) (interface{}, error) {
				return store.GetBackup(ctx, req.Param("name"))
			},
		},
		{Path: APIPrefix + "/restores", Tag: "Restore", Name: "get_restores", CredentialRequired: true, Handler: list(store.ListRestores)},
		{Path: APIPrefix + "/schedules", Tag: "Schedule", Name: "get_schedules", CredentialRequired: true, Handler: list(store.ListSchedules)},
		{Path: APIPrefix + "/backup-locations", Tag: "Location", Name: "get_backup_locations", CredentialRequired: true, Handler: list(store.ListBackupStorageLocations)},
		{Path: APIPrefix + "/snapshot-locations", Tag: "Location", Name: "get_snapshot_locations", CredentialRequired: true, Handler: list(store.ListVolumeSnapshotLocations)},
		{Path: APIPrefix + "/repositories", Tag: "Repository", Name: "get_repositories", CredentialRequired: true, Handler: list(store.ListBackupRepositories)},
		{Path: APIPrefix + "/storage-class-mappings", Tag: "Setting", Name: "get_storage_class_mappings", CredentialRequired: true, Handler: list(store.StorageClassMappings)},
		{Path: APIPrefix + "/pod-volume-backups", Tag: "PodVolume", Name: "get_pod_volume_backups", CredentialRequired: true, Handler: list(store.ListPodVolumeBackups)},
		{Path: APIPrefix + "/pod-volume-restores", Tag: "PodVolume", Name: "get_pod_volume_restores", CredentialRequired: true, Handler: list(store.ListPodVolumeRestores)},
	}

	for _, op := range ops {
		if err := t.Add(op); err != nil {
			return err
		}
	}
	return nil
}
