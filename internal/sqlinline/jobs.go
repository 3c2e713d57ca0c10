package sqlinline

const QEnsureRenderJobsSchema = `--sql 1c6955a2-3e2e-4abf-9c69-fd4eb6897783
create table if not exists render_jobs (
    id uuid primary key,
    user_id text not null,
    order_id text not null,
    template_id text not null,
    workflow_ref text not null,
    job_type text not null,
    status text not null,
    progress integer not null default 0,
    input_resource_url text not null,
    remote_resource_handle text,
    remote_job_id text,
    remote_status text not null default '',
    output_url text,
    output_kind text,
    output_cost_seconds integer,
    output_node_id text,
    error_message text,
    error_code text,
    retry_count integer not null default 0,
    max_retries integer not null default 3,
    timeout_ms bigint not null default 1800000,
    version bigint not null default 1,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now(),
    started_at timestamptz,
    completed_at timestamptz
);
create index if not exists idx_render_jobs_user_created on render_jobs (user_id, created_at desc);
create index if not exists idx_render_jobs_status on render_jobs (status, created_at);
create index if not exists idx_render_jobs_workflow_done on render_jobs (workflow_ref) where status = 'COMPLETED';
`

const QInsertRenderJob = `--sql edd3b1a5-62d7-48ef-a6b2-b18762a8341c
insert into render_jobs (
    id, user_id, order_id, template_id, workflow_ref, job_type, status, progress,
    input_resource_url, remote_status, retry_count, max_retries, timeout_ms, version,
    created_at, updated_at
) values (
    $1::uuid, $2, $3, $4, $5, $6, $7, $8,
    $9, $10, $11, $12, $13, $14,
    $15, $16
);
`

const QSelectRenderJob = `--sql c011c85f-5d7b-474b-a3aa-3ee973e4dd73
select id::text, user_id, order_id, template_id, workflow_ref, job_type, status, progress,
       input_resource_url, remote_resource_handle, remote_job_id, remote_status,
       output_url, output_kind, output_cost_seconds, output_node_id,
       error_message, error_code, retry_count, max_retries, timeout_ms, version,
       created_at, updated_at, started_at, completed_at
from render_jobs
where id = $1::uuid;
`

// QCompareAndSwapRenderJob writes every mutable column only when status and
// version still match what the caller loaded.
const QCompareAndSwapRenderJob = `--sql ae896a65-5105-47a3-8ef5-0ce88a9fb0fd
update render_jobs
set status = $2,
    progress = $3,
    remote_resource_handle = $4,
    remote_job_id = $5,
    remote_status = $6,
    output_url = $7,
    output_kind = $8,
    output_cost_seconds = $9,
    output_node_id = $10,
    error_message = $11,
    error_code = $12,
    retry_count = $13,
    started_at = $14,
    completed_at = $15,
    updated_at = $16,
    version = $17
where id = $1::uuid
  and status = $18
  and version = $17 - 1;
`

const QListRenderJobsByUser = `--sql 1c9e83e5-6653-4f11-8a8b-70c59e61e6d0
select id::text, user_id, order_id, template_id, workflow_ref, job_type, status, progress,
       input_resource_url, remote_resource_handle, remote_job_id, remote_status,
       output_url, output_kind, output_cost_seconds, output_node_id,
       error_message, error_code, retry_count, max_retries, timeout_ms, version,
       created_at, updated_at, started_at, completed_at
from render_jobs
where user_id = $1
  and ($2::text is null or status = $2::text)
order by created_at desc
limit $3 offset $4;
`

const QCountRenderJobsByUser = `--sql 4a4aded6-3472-4158-b941-293bcb556837
select count(*)
from render_jobs
where user_id = $1
  and ($2::text is null or status = $2::text);
`

const QListRenderJobsByStatus = `--sql e72a5fa7-b93a-4149-9c59-a39da89e318d
select id::text, user_id, order_id, template_id, workflow_ref, job_type, status, progress,
       input_resource_url, remote_resource_handle, remote_job_id, remote_status,
       output_url, output_kind, output_cost_seconds, output_node_id,
       error_message, error_code, retry_count, max_retries, timeout_ms, version,
       created_at, updated_at, started_at, completed_at
from render_jobs
where status = any($1::text[])
order by created_at asc
limit $2;
`

const QListTimedOutRenderJobs = `--sql 4a7db2e4-a3c4-4df1-8b74-5a92be3fe795
select id::text, user_id, order_id, template_id, workflow_ref, job_type, status, progress,
       input_resource_url, remote_resource_handle, remote_job_id, remote_status,
       output_url, output_kind, output_cost_seconds, output_node_id,
       error_message, error_code, retry_count, max_retries, timeout_ms, version,
       created_at, updated_at, started_at, completed_at
from render_jobs
where status = any($1::text[])
  and started_at is not null
  and started_at + (timeout_ms * interval '1 millisecond') < $2
order by started_at asc;
`

const QRenderJobStats = `--sql f38b1e12-d91b-41c4-a25a-20f14a416427
select status, count(*)
from render_jobs
where ($1 = '' or user_id = $1)
group by status;
`

const QRenderWorkflowAverageCost = `--sql 0b7e4b1e-8a57-4f0e-9c1d-3f2d6b5a9e41
select coalesce(avg(output_cost_seconds), 0)::float8, count(*)
from render_jobs
where workflow_ref = $1
  and status = 'COMPLETED'
  and output_cost_seconds is not null;
`
