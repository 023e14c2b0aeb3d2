package cluster

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	velerov1api "github.com/vmware-tanzu/velero/pkg/apis/velero/v1"
)

type BackupView struct {
	Name                string            `json:"name"`
	Phase               string            `json:"phase"`
	StorageLocation     string            `json:"storage_location,omitempty"`
	IncludedNamespaces  []string          `json:"included_namespaces,omitempty"`
	Errors              int               `json:"errors"`
	Warnings            int               `json:"warnings"`
	Created             *time.Time        `json:"created,omitempty"`
	StartTimestamp      *time.Time        `json:"start_timestamp,omitempty"`
	CompletionTimestamp *time.Time        `json:"completion_timestamp,omitempty"`
	Expiration          *time.Time        `json:"expiration,omitempty"`
	Labels              map[string]string `json:"labels,omitempty"`
}

type RestoreView struct {
	Name                string     `json:"name"`
	BackupName          string     `json:"backup_name"`
	ScheduleName        string     `json:"schedule_name,omitempty"`
	Phase               string     `json:"phase"`
	Errors              int        `json:"errors"`
	Warnings            int        `json:"warnings"`
	Created             *time.Time `json:"created,omitempty"`
	CompletionTimestamp *time.Time `json:"completion_timestamp,omitempty"`
}

type ScheduleView struct {
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"`
	Phase      string     `json:"phase"`
	Paused     bool       `json:"paused"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	Created    *time.Time `json:"created,omitempty"`
}

type BackupStorageLocationView struct {
	Name               string     `json:"name"`
	Provider           string     `json:"provider"`
	Bucket             string     `json:"bucket,omitempty"`
	Prefix             string     `json:"prefix,omitempty"`
	Default            bool       `json:"default"`
	AccessMode         string     `json:"access_mode,omitempty"`
	Phase              string     `json:"phase"`
	LastValidationTime *time.Time `json:"last_validation_time,omitempty"`
}

type VolumeSnapshotLocationView struct {
	Name     string            `json:"name"`
	Provider string            `json:"provider"`
	Config   map[string]string `json:"config,omitempty"`
}

type RepositoryView struct {
	Name                  string     `json:"name"`
	VolumeNamespace       string     `json:"volume_namespace"`
	BackupStorageLocation string     `json:"backup_storage_location"`
	RepositoryType        string     `json:"repository_type"`
	Phase                 string     `json:"phase"`
	LastMaintenanceTime   *time.Time `json:"last_maintenance_time,omitempty"`
}

type PodVolumeBackupView struct {
	Name         string `json:"name"`
	Backup       string `json:"backup,omitempty"`
	Node         string `json:"node"`
	Pod          string `json:"pod"`
	PodNamespace string `json:"pod_namespace"`
	Volume       string `json:"volume"`
	UploaderType string `json:"uploader_type,omitempty"`
	Phase        string `json:"phase"`
	BytesDone    int64  `json:"bytes_done"`
	TotalBytes   int64  `json:"total_bytes"`
}

type PodVolumeRestoreView struct {
	Name         string `json:"name"`
	Restore      string `json:"restore,omitempty"`
	Pod          string `json:"pod"`
	PodNamespace string `json:"pod_namespace"`
	Volume       string `json:"volume"`
	SnapshotID   string `json:"snapshot_id,omitempty"`
	Phase        string `json:"phase"`
	BytesDone    int64  `json:"bytes_done"`
	TotalBytes   int64  `json:"total_bytes"`
}

// StorageClassMapping is one old->new entry of the change-storage-class plugin config.
type StorageClassMapping struct {
	ConfigMap string `json:"config_map"`
	From      string `json:"from"`
	To        string `json:"to"`
}

type Stats struct {
	Backups              int            `json:"backups"`
	BackupsByPhase       map[string]int `json:"backups_by_phase"`
	Restores             int            `json:"restores"`
	RestoresByPhase      map[string]int `json:"restores_by_phase"`
	Schedules            int            `json:"schedules"`
	PausedSchedules      int            `json:"paused_schedules"`
	BackupLocations      int            `json:"backup_locations"`
	UnavailableLocations int            `json:"unavailable_locations"`
	LastSuccessfulBackup *time.Time     `json:"last_successful_backup,omitempty"`
}

func timePtr(t *metav1.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

func createdPtr(meta metav1.ObjectMeta) *time.Time {
	return timePtr(&meta.CreationTimestamp)
}

func newBackupView(b *velerov1api.Backup) BackupView {
	return BackupView{
		Name:                b.Name,
		Phase:               string(b.Status.Phase),
		StorageLocation:     b.Spec.StorageLocation,
		IncludedNamespaces:  b.Spec.IncludedNamespaces,
		Errors:              b.Status.Errors,
		Warnings:            b.Status.Warnings,
		Created:             createdPtr(b.ObjectMeta),
		StartTimestamp:      timePtr(b.Status.StartTimestamp),
		CompletionTimestamp: timePtr(b.Status.CompletionTimestamp),
		Expiration:          timePtr(b.Status.Expiration),
		Labels:              b.Labels,
	}
}

func newRestoreView(r *velerov1api.Restore) RestoreView {
	return RestoreView{
		Name:                r.Name,
		BackupName:          r.Spec.BackupName,
		ScheduleName:        r.Spec.ScheduleName,
		Phase:               string(r.Status.Phase),
		Errors:              r.Status.Errors,
		Warnings:            r.Status.Warnings,
		Created:             createdPtr(r.ObjectMeta),
		CompletionTimestamp: timePtr(r.Status.CompletionTimestamp),
	}
}

func newScheduleView(s *velerov1api.Schedule) ScheduleView {
	return ScheduleView{
		Name:       s.Name,
		Schedule:   s.Spec.Schedule,
		Phase:      string(s.Status.Phase),
		Paused:     s.Spec.Paused,
		LastBackup: timePtr(s.Status.LastBackup),
		Created:    createdPtr(s.ObjectMeta),
	}
}

func newBackupStorageLocationView(l *velerov1api.BackupStorageLocation) BackupStorageLocationView {
	v := BackupStorageLocationView{
		Name:               l.Name,
		Provider:           l.Spec.Provider,
		Default:            l.Spec.Default,
		AccessMode:         string(l.Spec.AccessMode),
		Phase:              string(l.Status.Phase),
		LastValidationTime: timePtr(l.Status.LastValidationTime),
	}
	if l.Spec.ObjectStorage != nil {
		v.Bucket = l.Spec.ObjectStorage.Bucket
		v.Prefix = l.Spec.ObjectStorage.Prefix
	}
	return v
}

func newVolumeSnapshotLocationView(l *velerov1api.VolumeSnapshotLocation) VolumeSnapshotLocationView {
	return VolumeSnapshotLocationView{
		Name:     l.Name,
		Provider: l.Spec.Provider,
		Config:   l.Spec.Config,
	}
}

func newRepositoryView(r *velerov1api.BackupRepository) RepositoryView {
	return RepositoryView{
		Name:                  r.Name,
		VolumeNamespace:       r.Spec.VolumeNamespace,
		BackupStorageLocation: r.Spec.BackupStorageLocation,
		RepositoryType:        r.Spec.RepositoryType,
		Phase:                 string(r.Status.Phase),
		LastMaintenanceTime:   timePtr(r.Status.LastMaintenanceTime),
	}
}

func newPodVolumeBackupView(p *velerov1api.PodVolumeBackup) PodVolumeBackupView {
	return PodVolumeBackupView{
		Name:         p.Name,
		Backup:       p.Labels[velerov1api.BackupNameLabel],
		Node:         p.Spec.Node,
		Pod:          p.Spec.Pod.Name,
		PodNamespace: p.Spec.Pod.Namespace,
		Volume:       p.Spec.Volume,
		UploaderType: p.Spec.UploaderType,
		Phase:        string(p.Status.Phase),
		BytesDone:    p.Status.Progress.BytesDone,
		TotalBytes:   p.Status.Progress.TotalBytes,
	}
}

func newPodVolumeRestoreView(p *velerov1api.PodVolumeRestore) PodVolumeRestoreView {
	return PodVolumeRestoreView{
		Name:         p.Name,
		Restore:      p.Labels[velerov1api.RestoreNameLabel],
		Pod:          p.Spec.Pod.Name,
		PodNamespace: p.Spec.Pod.Namespace,
		Volume:       p.Spec.Volume,
		SnapshotID:   p.Spec.SnapshotID,
		Phase:        string(p.Status.Phase),
		BytesDone:    p.Status.Progress.BytesDone,
		TotalBytes:   p.Status.Progress.TotalBytes,
	}
}
