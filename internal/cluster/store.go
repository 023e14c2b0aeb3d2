package cluster

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	corev1api "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	kbclient "sigs.k8s.io/controller-runtime/pkg/client"

	velerov1api "github.com/vmware-tanzu/velero/pkg/apis/velero/v1"

	"github.com/aman-churiwal/velero-api/internal/circuitbreaker"
)

// ChangeStorageClassSelector selects the ConfigMaps read by the
// change-storage-class restore item action.
const ChangeStorageClassSelector = "velero.io/change-storage-class=RestoreItemAction"

// IsUpstreamFailure reports whether err means the API server misbehaved, as
// opposed to the caller asking for something that does not exist or is not
// allowed.
func IsUpstreamFailure(err error) bool {
	if err == nil {
		return false
	}
	return !apierrors.IsNotFound(err) && !apierrors.IsForbidden(err) && !apierrors.IsUnauthorized(err)
}

// Store reads Velero resources from one namespace.
type Store struct {
	client    kbclient.Client
	kube      kubernetes.Interface
	namespace string
	breaker   *circuitbreaker.CircuitBreaker
	logger    logrus.FieldLogger
}

func NewStore(client kbclient.Client, kube kubernetes.Interface, namespace string, breaker *circuitbreaker.CircuitBreaker, logger logrus.FieldLogger) *Store {
	if namespace == "" {
		namespace = velerov1api.DefaultNamespace
	}
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.Config{Name: "cluster", IsFailure: IsUpstreamFailure, Logger: logger})
	}
	return &Store{
		client:    client,
		kube:      kube,
		namespace: namespace,
		breaker:   breaker,
		logger:    logger,
	}
}

func (s *Store) Namespace() string { return s.namespace }

func (s *Store) Breaker() *circuitbreaker.CircuitBreaker { return s.breaker }

func (s *Store) list(ctx context.Context, list kbclient.ObjectList) error {
	err := s.breaker.Call(func() error {
		return s.client.List(ctx, list, kbclient.InNamespace(s.namespace))
	})
	if err != nil {
		return errors.Wrapf(err, "error listing %T in namespace %s", list, s.namespace)
	}
	return nil
}

func (s *Store) ListBackups(ctx context.Context) ([]BackupView, error) {
	list := new(velerov1api.BackupList)
	if err := s.list(ctx, list); err != nil {
		return nil, err
	}
	sort.Slice(list.Items, func(i, j int) bool {
		return newerFirst(list.Items[i].ObjectMeta, list.Items[j].ObjectMeta)
	})

	views := make([]BackupView, 0, len(list.Items))
	for i := range list.Items {
		views = append(views, newBackupView(&list.Items[i]))
	}
	return views, nil
}

func (s *Store) GetBackup(ctx context.Context, name string) (*BackupView, error) {
	backup := new(velerov1api.Backup)
	err := s.breaker.Call(func() error {
		return s.client.Get(ctx, kbclient.ObjectKey{Namespace: s.namespace, Name: name}, backup)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "error getting backup %s", name)
	}
	view := newBackupView(backup)
	return &view, nil
}

func (s *Store) ListRestores(ctx context.Context) ([]RestoreView, error) {
	list := new(velerov1api.RestoreList)
	if err := s.list(ctx, list); err != nil {
		return nil, err
	}
	sort.Slice(list.Items, func(i, j int) bool {
		return newerFirst(list.Items[i].ObjectMeta, list.Items[j].ObjectMeta)
	})

	views := make([]RestoreView, 0, len(list.Items))
	for i := range list.Items {
		views = append(views, newRestoreView(&list.Items[i]))
	}
	return views, nil
}

func (s *Store) ListSchedules(ctx context.Context) ([]ScheduleView, error) {
	list := new(velerov1api.ScheduleList)
	if err := s.list(ctx, list); err != nil {
		return nil, err
	}
	sort.Slice(list.Items, func(i, j int) bool { return list.Items[i].Name < list.Items[j].Name })

	views := make([]ScheduleView, 0, len(list.Items))
	for i := range list.Items {
		views = append(views, newScheduleView(&list.Items[i]))
	}
	return views, nil
}

func (s *Store) ListBackupStorageLocations(ctx context.Context) ([]BackupStorageLocationView, error) {
	list := new(velerov1api.BackupStorageLocationList)
	if err := s.list(ctx, list); err != nil {
		return nil, err
	}
	sort.Slice(list.Items, func(i, j int) bool { return list.Items[i].Name < list.Items[j].Name })

	views := make([]BackupStorageLocationView, 0, len(list.Items))
	for i := range list.Items {
		views = append(views, newBackupStorageLocationView(&list.Items[i]))
	}
	return views, nil
}

func (s *Store) ListVolumeSnapshotLocations(ctx context.Context) ([]VolumeSnapshotLocationView, error) {
	list := new(velerov1api.VolumeSnapshotLocationList)
	if err := s.list(ctx, list); err != nil {
		return nil, err
	}
	sort.Slice(list.Items, func(i, j int) bool { return list.Items[i].Name < list.Items[j].Name })

	views := make([]VolumeSnapshotLocationView, 0, len(list.Items))
	for i := range list.Items {
		views = append(views, newVolumeSnapshotLocationView(&list.Items[i]))
	}
	return views, nil
}

func (s *Store) ListBackupRepositories(ctx context.Context) ([]RepositoryView, error) {
	list := new(velerov1api.BackupRepositoryList)
	if err := s.list(ctx, list); err != nil {
		return nil, err
	}
	sort.Slice(list.Items, func(i, j int) bool { return list.Items[i].Name < list.Items[j].Name })

	views := make([]RepositoryView, 0, len(list.Items))
	for i := range list.Items {
		views = append(views, newRepositoryView(&list.Items[i]))
	}
	return views, nil
}

func (s *Store) ListPodVolumeBackups(ctx context.Context) ([]PodVolumeBackupView, error) {
	list := new(velerov1api.PodVolumeBackupList)
	if err := s.list(ctx, list); err != nil {
		return nil, err
	}
	sort.Slice(list.Items, func(i, j int) bool {
		return newerFirst(list.Items[i].ObjectMeta, list.Items[j].ObjectMeta)
	})

	views := make([]PodVolumeBackupView, 0, len(list.Items))
	for i := range list.Items {
		views = append(views, newPodVolumeBackupView(&list.Items[i]))
	}
	return views, nil
}

func (s *Store) ListPodVolumeRestores(ctx context.Context) ([]PodVolumeRestoreView, error) {
	list := new(velerov1api.PodVolumeRestoreList)
	if err := s.list(ctx, list); err != nil {
		return nil, err
	}
	sort.Slice(list.Items, func(i, j int) bool {
		return newerFirst(list.Items[i].ObjectMeta, list.Items[j].ObjectMeta)
	})

	views := make([]PodVolumeRestoreView, 0, len(list.Items))
	for i := range list.Items {
		views = append(views, newPodVolumeRestoreView(&list.Items[i]))
	}
	return views, nil
}

// StorageClassMappings flattens every change-storage-class ConfigMap in the
// namespace into old->new pairs.
func (s *Store) StorageClassMappings(ctx context.Context) ([]StorageClassMapping, error) {
	var configMaps *corev1api.ConfigMapList
	err := s.breaker.Call(func() error {
		var err error
		configMaps, err = s.kube.CoreV1().ConfigMaps(s.namespace).List(ctx, metav1.ListOptions{
			LabelSelector: ChangeStorageClassSelector,
		})
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "error listing storage class mapping config maps")
	}

	mappings := make([]StorageClassMapping, 0)
	for _, cm := range configMaps.Items {
		for from, to := range cm.Data {
			mappings = append(mappings, StorageClassMapping{ConfigMap: cm.Name, From: from, To: to})
		}
	}
	sort.Slice(mappings, func(i, j int) bool {
		if mappings[i].ConfigMap != mappings[j].ConfigMap {
			return mappings[i].ConfigMap < mappings[j].ConfigMap
		}
		return mappings[i].From < mappings[j].From
	})
	return mappings, nil
}

// Stats summarizes backups, restores, schedules and storage locations.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	backups := new(velerov1api.BackupList)
	if err := s.list(ctx, backups); err != nil {
		return nil, err
	}
	restores := new(velerov1api.RestoreList)
	if err := s.list(ctx, restores); err != nil {
		return nil, err
	}
	schedules := new(velerov1api.ScheduleList)
	if err := s.list(ctx, schedules); err != nil {
		return nil, err
	}
	locations := new(velerov1api.BackupStorageLocationList)
	if err := s.list(ctx, locations); err != nil {
		return nil, err
	}

	stats := &Stats{
		Backups:         len(backups.Items),
		BackupsByPhase:  make(map[string]int),
		Restores:        len(restores.Items),
		RestoresByPhase: make(map[string]int),
		Schedules:       len(schedules.Items),
		BackupLocations: len(locations.Items),
	}

	var lastSuccess time.Time
	for _, b := range backups.Items {
		stats.BackupsByPhase[phaseOrNew(string(b.Status.Phase))]++
		if b.Status.Phase == velerov1api.BackupPhaseCompleted && b.Status.CompletionTimestamp != nil {
			if b.Status.CompletionTimestamp.After(lastSuccess) {
				lastSuccess = b.Status.CompletionTimestamp.Time
			}
		}
	}
	if !lastSuccess.IsZero() {
		stats.LastSuccessfulBackup = &lastSuccess
	}
	for _, r := range restores.Items {
		stats.RestoresByPhase[phaseOrNew(string(r.Status.Phase))]++
	}
	for _, sc := range schedules.Items {
		if sc.Spec.Paused {
			stats.PausedSchedules++
		}
	}
	for _, l := range locations.Items {
		if l.Status.Phase != velerov1api.BackupStorageLocationPhaseAvailable {
			stats.UnavailableLocations++
		}
	}

	return stats, nil
}

func phaseOrNew(phase string) string {
	if phase == "" {
		return "New"
	}
	return phase
}

func newerFirst(a, b metav1.ObjectMeta) bool {
	if a.CreationTimestamp.Equal(&b.CreationTimestamp) {
		return a.Name < b.Name
	}
	return b.CreationTimestamp.Before(&a.CreationTimestamp)
}
