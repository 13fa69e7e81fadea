package scheduler

import "time"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	defs := make([]scheduleDef, len(s.defs))
	copy(defs, s.defs)
	c := s.c
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	s.mu.Unlock()

	items := make([]ScheduleInfo, 0, len(defs))
	for _, d := range defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next.In(loc)
			if !e.Prev.IsZero() {
				it.Prev = e.Prev.In(loc)
			}
		}
		items = append(items, it)
	}

	return Snapshot{
		Enabled:   enabled,
		Running:   c != nil,
		Timezone:  loc.String(),
		Schedules: items,
	}
}

// NextAfter returns the next fire time of spec after t, for previews and
// validation. It uses the same parser as the running scheduler.
func NextAfter(spec string, t time.Time) (time.Time, error) {
	ps, err := ParseSchedule(spec)
	if err != nil {
		return time.Time{}, err
	}
	if ps.Kind == SpecInterval {
		return t.Add(ps.Every), nil
	}
	sched, err := newParser().Parse(ps.Cron)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t), nil
}
