/*
Package operator runs the EdnaJob controller process.

An Operator owns the three stores, the job, deployment and namespace
factories and the controllers built on them. Run loads the EdnaJob CRD,
starts the HTTP endpoints and, while this process holds leadership, the
controllers:

	Operator.Run
	  ├─ HTTP servers      /healthz /readyz /status (:8081), /metrics (:9090)
	  ├─ config watcher    log level reload
	  ├─ LeaderElectionManager (Lease, optional)
	  │    └─ ControllerManager
	  │         ├─ ednajob-controller     (EdnaJobs in edna.namespace)
	  │         ├─ deployment-controller  (all namespaces)
	  │         └─ namespace-controller
	  └─ ShutdownManager   readiness off, controllers closed in reverse order

# Connecting to the API server

KubernetesClientManager picks the first that applies:

  - kubernetes.kubeconfig: a kubeconfig file
  - kubernetes.inCluster: the service account of the pod
  - otherwise a kubectl proxy at kubernetes.protocol://host:port

Through a proxy no credentials are sent; the proxy authenticates.

# Leader Election

With controllers.leaderElection.enabled several replicas share one Lease.
Only the holder runs controllers; the others serve probes and report not
ready. Losing the lease ends Run with ErrLeadershipLost so the pod restarts
with empty stores.

	kubectl get lease -n <namespace> ednajob-controller-leader -o yaml

# Usage

	clients, err := operator.NewKubernetesClientManager(cfg.Kubernetes)
	if err != nil {
		return err
	}
	op, err := operator.NewOperator(cfg, clients, operator.WithLogger(logger))
	if err != nil {
		return err
	}
	return op.Run(ctx)

pkg/di builds the same graph from a configuration file.
*/
package operator
